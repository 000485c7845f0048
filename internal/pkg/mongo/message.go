package mongo

import (
	"Patronage/internal/chat"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message MongoDB 消息明细模型，每个会话一份
// 双写到两个会话的消息共享同一个 MsgID
type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MsgID     string             `bson:"msg_id" json:"msgId"`
	ThreadID  string             `bson:"thread_id" json:"threadId"` // chat.ThreadID.String()
	SenderID  uint64             `bson:"sender_id" json:"senderId"`
	Content   string             `bson:"content" json:"content"`
	Payload   []Payload          `bson:"payload,omitempty" json:"payload"`
	State     chat.DeliveryState `bson:"delivery_state" json:"deliveryState"` // 1-已发送, 2-已送达, 3-已读
	Edited    bool               `bson:"edited" json:"edited"`
	Deleted   bool               `bson:"deleted" json:"deleted"` // 墓碑
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
	EditedAt  *time.Time         `bson:"edited_at,omitempty" json:"editedAt"`
}

// Payload 附件，媒体本身由媒体服务托管，这里只保存对象 key
type Payload struct {
	MediaKey string  `bson:"media_key" json:"mediaKey"`
	MimeType string  `bson:"mime_type" json:"mimeType"`
	Size     int64   `bson:"size" json:"size"`
	Width    int     `bson:"width,omitempty" json:"width"`
	Height   int     `bson:"height,omitempty" json:"height"`
	Duration float64 `bson:"duration,omitempty" json:"duration"`
	Locked   bool    `bson:"locked" json:"locked"`         // 付费解锁
	Price    int64   `bson:"price,omitempty" json:"price"` // 单位：分
}

// Summary 转为会话摘要
func (m *Message) Summary() chat.Summary {
	return chat.Summary{
		Preview:  chat.PreviewOf(m.Content, len(m.Payload)),
		SenderID: m.SenderID,
		At:       m.CreatedAt,
	}
}
