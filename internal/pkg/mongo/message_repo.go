package mongo

import (
	"Patronage/internal/chat"
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepo 消息日志存储，按会话追加写
type MessageRepo interface {
	SaveMessage(ctx context.Context, msg *Message) error
	DeleteCopy(ctx context.Context, id primitive.ObjectID) error
	GetHistory(ctx context.Context, threadID string, cursor HistoryCursor, pageSize int) ([]*Message, error)
	GetByMsgID(ctx context.Context, msgID string) ([]*Message, error)
	FindUnreadIDs(ctx context.Context, threadID string, readerID uint64) ([]string, error)
	AdvanceState(ctx context.Context, msgIDs []string, to chat.DeliveryState) (int64, error)
	EditUnread(ctx context.Context, msgID, content string, at time.Time) (int64, error)
	RestoreContent(ctx context.Context, msgID, content string, edited bool, editedAt *time.Time) error
	DeleteUnread(ctx context.Context, msgID string) (int64, error)
	Tombstone(ctx context.Context, msgID string) (int64, error)
	LatestVisible(ctx context.Context, threadID string) (*Message, error)
	EnsureIndexes(ctx context.Context) error
}

// HistoryCursor 上一页最旧一条消息的位置，零值表示第一页
// 同一毫秒内的消息按 _id 倒序继续翻页
type HistoryCursor struct {
	Before   time.Time
	BeforeID primitive.ObjectID
}

func (c HistoryCursor) apply(filter bson.M) {
	if c.Before.IsZero() {
		return
	}
	if c.BeforeID.IsZero() {
		filter["created_at"] = bson.M{"$lt": c.Before}
		return
	}
	filter["$or"] = bson.A{
		bson.M{"created_at": bson.M{"$lt": c.Before}},
		bson.M{"created_at": c.Before, "_id": bson.M{"$lt": c.BeforeID}},
	}
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("message"),
	}
}

// SaveMessage 将消息存入 MongoDB，ID 为空时在客户端生成，便于失败回滚
func (s *messageRepoImpl) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	_, err := s.col.InsertOne(ctx, msg)
	return err
}

// DeleteCopy 删除单个副本，仅用于双写失败回滚
func (s *messageRepoImpl) DeleteCopy(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// GetHistory 历史消息查询，按 created_at、_id 倒序
func (s *messageRepoImpl) GetHistory(ctx context.Context, threadID string, cursor HistoryCursor, pageSize int) ([]*Message, error) {
	filter := bson.M{"thread_id": threadID}
	cursor.apply(filter)

	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(pageSize))

	return s.find(ctx, filter, findOptions)
}

// GetByMsgID 获取一条消息的全部副本
func (s *messageRepoImpl) GetByMsgID(ctx context.Context, msgID string) ([]*Message, error) {
	return s.find(ctx, bson.M{"msg_id": msgID})
}

// FindUnreadIDs 会话中对方发来且读者尚未读的消息
func (s *messageRepoImpl) FindUnreadIDs(ctx context.Context, threadID string, readerID uint64) ([]string, error) {
	filter := bson.M{
		"thread_id":      threadID,
		"sender_id":      bson.M{"$ne": readerID},
		"delivery_state": bson.M{"$lt": chat.StateRead},
	}
	opts := options.Find().SetProjection(bson.M{"msg_id": 1})
	list, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(list))
	for _, m := range list {
		ids = append(ids, m.MsgID)
	}
	return ids, nil
}

// AdvanceState 推进投递状态，所有副本一起推进，已处于更高状态的不受影响
func (s *messageRepoImpl) AdvanceState(ctx context.Context, msgIDs []string, to chat.DeliveryState) (int64, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}
	filter := bson.M{
		"msg_id":         bson.M{"$in": msgIDs},
		"delivery_state": bson.M{"$lt": to},
	}
	res, err := s.col.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"delivery_state": to}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// EditUnread 编辑尚未被读的副本，返回命中的副本数
func (s *messageRepoImpl) EditUnread(ctx context.Context, msgID, content string, at time.Time) (int64, error) {
	filter := bson.M{
		"msg_id":         msgID,
		"deleted":        false,
		"delivery_state": bson.M{"$lt": chat.StateRead},
	}
	update := bson.M{"$set": bson.M{
		"content":   content,
		"edited":    true,
		"edited_at": at,
	}}
	res, err := s.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

// RestoreContent 编辑只成功了一部分副本时恢复原内容
func (s *messageRepoImpl) RestoreContent(ctx context.Context, msgID, content string, edited bool, editedAt *time.Time) error {
	set := bson.M{"content": content, "edited": edited}
	update := bson.M{"$set": set}
	if editedAt != nil {
		set["edited_at"] = *editedAt
	} else {
		update["$unset"] = bson.M{"edited_at": ""}
	}
	_, err := s.col.UpdateMany(ctx, bson.M{"msg_id": msgID, "deleted": false}, update)
	return err
}

// DeleteUnread 移除尚未被读的副本，已读的副本保留给墓碑处理
func (s *messageRepoImpl) DeleteUnread(ctx context.Context, msgID string) (int64, error) {
	filter := bson.M{
		"msg_id":         msgID,
		"delivery_state": bson.M{"$lt": chat.StateRead},
	}
	res, err := s.col.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Tombstone 清空内容与附件，保留发送者与发送时间
func (s *messageRepoImpl) Tombstone(ctx context.Context, msgID string) (int64, error) {
	update := bson.M{
		"$set":   bson.M{"content": "", "deleted": true},
		"$unset": bson.M{"payload": ""},
	}
	res, err := s.col.UpdateMany(ctx, bson.M{"msg_id": msgID}, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

// LatestVisible 会话中最新一条未删除的消息，没有则返回 nil
func (s *messageRepoImpl) LatestVisible(ctx context.Context, threadID string) (*Message, error) {
	var msg Message
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	err := s.col.FindOne(ctx, bson.M{"thread_id": threadID, "deleted": false}, opts).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// EnsureIndexes 创建查询所需索引，可重复执行
func (s *messageRepoImpl) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "msg_id", Value: 1}, {Key: "thread_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	return err
}

func (s *messageRepoImpl) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*Message, error) {
	cursor, err := s.col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
