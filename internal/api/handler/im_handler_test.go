package handler

import (
	"Patronage/internal/api/dto"
	"Patronage/internal/pkg/consts"
	"Patronage/internal/service"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubIMService 只实现用到的方法，其余调用会 panic
type stubIMService struct {
	service.IMService

	sendReq    *dto.SendMessageReq
	sendErr    error
	historyFor uint64
	query      *dto.HistoryQuery
	hardDelete *bool
	pinned     *bool
	muted      *bool
	editErr    error
}

func (s *stubIMService) SendMessage(_ context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	s.sendReq = req
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &dto.MessageDTO{MsgID: "m1", SenderID: senderID, Content: req.Content}, nil
}

func (s *stubIMService) EditMessage(_ context.Context, _ uint64, msgID string, content string) (*dto.MessageDTO, error) {
	if s.editErr != nil {
		return nil, s.editErr
	}
	return &dto.MessageDTO{MsgID: msgID, Content: content, Edited: true}, nil
}

func (s *stubIMService) GetChatHistory(_ context.Context, userID uint64, q *dto.HistoryQuery) ([]*dto.MessageDTO, error) {
	s.historyFor = userID
	s.query = q
	return []*dto.MessageDTO{}, nil
}

func (s *stubIMService) DeleteConversation(_ context.Context, _, _ uint64, hard bool) error {
	s.hardDelete = &hard
	return nil
}

func (s *stubIMService) PinConversation(_ context.Context, _, _ uint64, pinned bool) error {
	s.pinned = &pinned
	return nil
}

func (s *stubIMService) MuteConversation(_ context.Context, _, _ uint64, muted bool) error {
	s.muted = &muted
	return nil
}

func (s *stubIMService) GetTotalUnread(_ context.Context, userID uint64) (*dto.UnreadDTO, error) {
	return &dto.UnreadDTO{Total: int64(userID)}, nil
}

func setupRouter(svc service.IMService, userID uint64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewIMHandler(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(consts.UserIDKey, userID)
		c.Next()
	})
	r.POST("/im/send", h.SendMessage)
	r.PUT("/im/message/:msg_id", h.EditMessage)
	r.GET("/im/history", h.GetChatHistory)
	r.DELETE("/im/conversation/:peer_id", h.DeleteConversation)
	r.PUT("/im/conversation/:peer_id/pin", h.PinConversation)
	r.PUT("/im/conversation/:peer_id/mute", h.MuteConversation)
	r.GET("/im/unread", h.GetTotalUnread)
	return r
}

func perform(t *testing.T, r *gin.Engine, method, path string, body interface{}) dto.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var res dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestIMHandler_SendMessage(t *testing.T) {
	svc := &stubIMService{}
	r := setupRouter(svc, 7)

	res := perform(t, r, http.MethodPost, "/im/send", dto.SendMessageReq{TargetUserID: 8, Content: "hi"})
	assert.Equal(t, 200, res.Code)
	require.NotNil(t, svc.sendReq)
	assert.Equal(t, uint64(8), svc.sendReq.TargetUserID)

	res = perform(t, r, http.MethodPost, "/im/send", map[string]interface{}{"content": "no target"})
	assert.Equal(t, 400, res.Code)

	svc.sendErr = errors.Wrapf(service.ErrStoreUnavailable, "save message: %v", "timeout")
	res = perform(t, r, http.MethodPost, "/im/send", dto.SendMessageReq{TargetUserID: 8, Content: "hi"})
	assert.Equal(t, 503, res.Code)
	assert.Equal(t, service.ErrStoreUnavailable.Error(), res.Message)
}

func TestIMHandler_EditMessageAlreadySeen(t *testing.T) {
	svc := &stubIMService{editErr: service.ErrMessageAlreadySeen}
	r := setupRouter(svc, 7)

	res := perform(t, r, http.MethodPut, "/im/message/m1", dto.EditMessageReq{Content: "x"})
	assert.Equal(t, 400, res.Code)
	assert.Equal(t, service.ErrMessageAlreadySeen.Error(), res.Message)
}

func TestIMHandler_GetChatHistory(t *testing.T) {
	svc := &stubIMService{}
	r := setupRouter(svc, 7)

	res := perform(t, r, http.MethodGet, "/im/history?peer_id=8&before=1700000000000&before_id=65f0c0ffee0000000000beef&page_size=5", nil)
	assert.Equal(t, 200, res.Code)
	assert.Equal(t, uint64(7), svc.historyFor)
	require.NotNil(t, svc.query)
	assert.Equal(t, uint64(8), svc.query.PeerID)
	assert.Equal(t, int64(1700000000000), svc.query.Before)
	assert.Equal(t, "65f0c0ffee0000000000beef", svc.query.BeforeID)
	assert.Equal(t, 5, svc.query.PageSize)

	svc.query = nil
	for _, path := range []string{
		"/im/history?peer_id=abc",
		"/im/history?peerId=8",
		"/im/history?peer_id=8&before_id=xyz",
		"/im/history?peer_id=8&page_size=500",
	} {
		res = perform(t, r, http.MethodGet, path, nil)
		assert.Equal(t, 400, res.Code, path)
	}
	assert.Nil(t, svc.query)
}

func TestIMHandler_ConversationOps(t *testing.T) {
	svc := &stubIMService{}
	r := setupRouter(svc, 7)

	res := perform(t, r, http.MethodDelete, "/im/conversation/8?mode=hard", nil)
	assert.Equal(t, 200, res.Code)
	require.NotNil(t, svc.hardDelete)
	assert.True(t, *svc.hardDelete)

	res = perform(t, r, http.MethodDelete, "/im/conversation/8", nil)
	assert.Equal(t, 200, res.Code)
	assert.False(t, *svc.hardDelete)

	res = perform(t, r, http.MethodDelete, "/im/conversation/8?mode=purge", nil)
	assert.Equal(t, 400, res.Code)

	res = perform(t, r, http.MethodPut, "/im/conversation/8/pin", dto.PinReq{Pinned: true})
	assert.Equal(t, 200, res.Code)
	require.NotNil(t, svc.pinned)
	assert.True(t, *svc.pinned)

	res = perform(t, r, http.MethodPut, "/im/conversation/8/mute", dto.MuteReq{Muted: true})
	assert.Equal(t, 200, res.Code)
	require.NotNil(t, svc.muted)
	assert.True(t, *svc.muted)

	res = perform(t, r, http.MethodGet, "/im/unread", nil)
	assert.Equal(t, 200, res.Code)
}
