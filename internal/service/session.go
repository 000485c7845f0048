package service

import (
	"Patronage/internal/api/dto"
	"Patronage/internal/chat"
	"Patronage/internal/model"
	"Patronage/internal/pkg/mongo"
	"Patronage/internal/pkg/redis"
	"context"
	log "log/slog"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
)

// SessionState 会话视图状态：closed → resolving → attached(thread) → attached(thread') → closed
type SessionState int

const (
	SessionClosed SessionState = iota
	SessionResolving
	SessionAttached
)

func (s SessionState) String() string {
	switch s {
	case SessionResolving:
		return "resolving"
	case SessionAttached:
		return "attached"
	}
	return "closed"
}

// Session 一个用户与一个对方之间的实时会话视图
// 订阅自己的指针频道；指针引用的会话变化时切换到新会话的频道
type Session struct {
	svc   *imServiceImpl
	owner uint64
	peer  uint64

	ctx    context.Context
	cancel context.CancelFunc
	sub    redis.Subscription
	wg     sync.WaitGroup

	// refreshMu 保证同一时刻只有一次刷新
	refreshMu sync.Mutex

	mu       sync.RWMutex
	state    SessionState
	thread   chat.ThreadID
	pointer  *model.ChatPointer
	messages []*mongo.Message
	updates  chan *dto.SessionViewDTO

	closeOnce sync.Once
}

func newSession(svc *imServiceImpl, owner, peer uint64) *Session {
	return &Session{
		svc:     svc,
		owner:   owner,
		peer:    peer,
		state:   SessionClosed,
		updates: make(chan *dto.SessionViewDTO, 1),
	}
}

// Open 订阅指针并完成首次加载
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SessionClosed || s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.state = SessionResolving
	s.mu.Unlock()

	if s.svc.feed != nil {
		s.sub = s.svc.feed.Subscribe(s.ctx, pointerChannel(s.owner, s.peer))
	}

	if err := s.refresh(ctx); err != nil {
		s.Close()
		return err
	}

	if s.sub != nil {
		s.wg.Add(1)
		go s.listen()
	}
	return nil
}

// listen 收到任意变更通知后重新拉取状态
func (s *Session) listen() {
	defer s.wg.Done()
	ch := s.sub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := s.refresh(s.ctx); err != nil && s.ctx.Err() == nil {
				log.WarnContext(s.ctx, "session refresh failed", "owner", s.owner, "peer", s.peer, "err", err)
			}
		}
	}
}

// refresh 重新读取指针；会话变化时切换订阅，并将对方消息标记为已读
func (s *Session) refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.State() == SessionClosed {
		return nil
	}

	p, err := s.loadPointer(ctx)
	if err != nil {
		return err
	}

	var thread chat.ThreadID
	if p != nil {
		thread = p.Thread()
	}

	s.mu.RLock()
	prev := s.thread
	s.mu.RUnlock()
	if thread != prev && s.sub != nil {
		if !prev.IsZero() {
			if err = s.sub.Unsubscribe(s.ctx, threadChannel(prev)); err != nil {
				log.WarnContext(ctx, "unsubscribe thread failed", "thread", prev.String(), "err", err)
			}
		}
		if !thread.IsZero() {
			if err = s.sub.Subscribe(s.ctx, threadChannel(thread)); err != nil {
				return errors.Wrapf(ErrStoreUnavailable, "subscribe thread %s: %v", thread, err)
			}
		}
	}

	var messages []*mongo.Message
	if p != nil {
		if err = s.svc.markRead(ctx, p); err != nil {
			return err
		}
		messages, err = s.svc.messageRepo.GetHistory(ctx, thread.String(), mongo.HistoryCursor{}, s.svc.opts.PageSize)
		if err != nil {
			return errors.Wrapf(ErrStoreUnavailable, "get history: %v", err)
		}
	}

	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return nil
	}
	if thread.IsZero() {
		s.state = SessionResolving
	} else {
		s.state = SessionAttached
	}
	s.thread = thread
	s.pointer = p
	s.messages = messages
	view := s.viewLocked()
	// 只保留最新的一帧
	select {
	case <-s.updates:
	default:
	}
	s.updates <- view
	s.mu.Unlock()
	return nil
}

// loadPointer 读取自己的指针；从未有过会话时以规范会话初始化
func (s *Session) loadPointer(ctx context.Context) (*model.ChatPointer, error) {
	repo := s.svc.pointerRepo
	p, err := repo.GetPointer(ctx, s.owner, s.peer)
	if err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "get pointer: %v", err)
	}
	if p != nil {
		return p, nil
	}

	history, err := s.svc.threadRepo.HasHistory(ctx, chat.PairKey(s.owner, s.peer))
	if err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "check history: %v", err)
	}
	if history {
		// 硬删除后保持空视图，下次发送时分叉
		return nil, nil
	}

	if _, err = repo.CreatePointer(ctx, model.NewChatPointer(s.owner, s.peer, chat.Canonical(s.owner, s.peer))); err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "create pointer: %v", err)
	}
	p, err = repo.GetPointer(ctx, s.owner, s.peer)
	if err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "get pointer: %v", err)
	}
	return p, nil
}

// Send 发送消息，发送前重新读取双方指针
func (s *Session) Send(ctx context.Context, content string, attachments []dto.AttachmentReq) (*dto.MessageDTO, error) {
	if s.State() == SessionClosed {
		return nil, ErrSessionClosed
	}
	msg, err := s.svc.SendMessage(ctx, s.owner, &dto.SendMessageReq{
		TargetUserID: s.peer,
		Content:      content,
		Attachments:  attachments,
	})
	if err != nil {
		return nil, err
	}
	s.sync(ctx)
	return msg, nil
}

// Edit 编辑自己发送的消息
func (s *Session) Edit(ctx context.Context, msgID, content string) (*dto.MessageDTO, error) {
	if s.State() == SessionClosed {
		return nil, ErrSessionClosed
	}
	msg, err := s.svc.EditMessage(ctx, s.owner, msgID, content)
	if err != nil {
		return nil, err
	}
	s.sync(ctx)
	return msg, nil
}

// Delete 删除自己发送的消息
func (s *Session) Delete(ctx context.Context, msgID string) error {
	if s.State() == SessionClosed {
		return ErrSessionClosed
	}
	if err := s.svc.DeleteMessage(ctx, s.owner, msgID); err != nil {
		return err
	}
	s.sync(ctx)
	return nil
}

func (s *Session) sync(ctx context.Context) {
	if err := s.refresh(ctx); err != nil {
		log.WarnContext(ctx, "session refresh failed", "owner", s.owner, "peer", s.peer, "err", err)
	}
}

// State 当前状态
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Thread 当前订阅的会话，未绑定时为零值
func (s *Session) Thread() chat.ThreadID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thread
}

// View 当前视图快照
func (s *Session) View() *dto.SessionViewDTO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

// Updates 视图变更流，消费慢时只保留最新一帧；关闭会话后 channel 被关闭
func (s *Session) Updates() <-chan *dto.SessionViewDTO {
	return s.updates
}

func (s *Session) viewLocked() *dto.SessionViewDTO {
	view := &dto.SessionViewDTO{
		State:    s.state.String(),
		PeerID:   s.peer,
		Messages: s.svc.toMessageDTOs(s.messages),
	}
	if !s.thread.IsZero() {
		view.ThreadID = s.thread.String()
	}
	if s.pointer != nil {
		pd := &dto.PointerDTO{}
		_ = copier.Copy(pd, s.pointer)
		pd.ThreadID = s.pointer.Thread().String()
		view.Pointer = pd
	}
	return view
}

// Close 立即取消订阅；进行中的发送在独立的上下文中完成
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = SessionClosed
		if s.cancel != nil {
			s.cancel()
		}
		close(s.updates)
		s.mu.Unlock()

		if s.sub != nil {
			if err := s.sub.Close(); err != nil {
				log.Warn("close session subscription failed", "owner", s.owner, "peer", s.peer, "err", err)
			}
		}
		s.wg.Wait()
	})
}
