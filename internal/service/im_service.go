package service

import (
	"Patronage/internal/api/dto"
	"Patronage/internal/chat"
	"Patronage/internal/model"
	"Patronage/internal/pkg/consts"
	"Patronage/internal/pkg/mongo"
	"Patronage/internal/pkg/redis"
	"Patronage/internal/repository"
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxHistoryPageSize = 100

// IMService 即时通讯服务接口定义
type IMService interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	EditMessage(ctx context.Context, userID uint64, msgID string, content string) (*dto.MessageDTO, error)
	DeleteMessage(ctx context.Context, userID uint64, msgID string) error
	GetChatHistory(ctx context.Context, userID uint64, q *dto.HistoryQuery) ([]*dto.MessageDTO, error)
	GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error)
	MarkAsRead(ctx context.Context, userID, peerID uint64) error
	DeleteConversation(ctx context.Context, userID, peerID uint64, hard bool) error
	PinConversation(ctx context.Context, userID, peerID uint64, pinned bool) error
	MuteConversation(ctx context.Context, userID, peerID uint64, muted bool) error
	GetTotalUnread(ctx context.Context, userID uint64) (*dto.UnreadDTO, error)
	ReconcileThread(ctx context.Context, thread chat.ThreadID) error
	OpenSession(ctx context.Context, userID, peerID uint64) (*Session, error)
	Close()
}

// EventEmitter 向通知服务投递消息事件
type EventEmitter interface {
	EmitChatEvent(ctx context.Context, evt *dto.ChatEvent) error
}

// DirtyMarker 记录摘要重算失败的会话，由定时任务补偿
type DirtyMarker interface {
	Mark(ctx context.Context, members ...string) error
}

// IMOptions 非存储类依赖与运行参数
type IMOptions struct {
	Emitter      EventEmitter
	Dirty        DirtyMarker
	MediaURL     func(mediaKey string) string
	MediaExists  func(ctx context.Context, mediaKey string) (bool, error)
	SettleDelay  time.Duration
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
	PageSize     int
	Now          func() time.Time
}

// deliveryTask 等待期按入队时的真实时间计算，与业务时钟 opts.Now 无关
type deliveryTask struct {
	msgID      string
	threads    []chat.ThreadID
	enqueuedAt time.Time
	delay      time.Duration
}

type imServiceImpl struct {
	pointerRepo repository.PointerRepo
	threadRepo  repository.ThreadRepo
	profileRepo repository.ProfileRepo
	messageRepo mongo.MessageRepo
	feed        redis.Feed
	opts        IMOptions

	deliveryChan chan deliveryTask
	wg           sync.WaitGroup
	stopChan     chan struct{}
	closeOnce    sync.Once
}

// NewIMService 构造函数：初始化服务并启动投递状态工作池
func NewIMService(
	pointerRepo repository.PointerRepo,
	threadRepo repository.ThreadRepo,
	profileRepo repository.ProfileRepo,
	messageRepo mongo.MessageRepo,
	feed redis.Feed,
	opts IMOptions,
) IMService {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 2048
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &imServiceImpl{
		pointerRepo:  pointerRepo,
		threadRepo:   threadRepo,
		profileRepo:  profileRepo,
		messageRepo:  messageRepo,
		feed:         feed,
		opts:         opts,
		deliveryChan: make(chan deliveryTask, opts.QueueSize),
		stopChan:     make(chan struct{}),
	}

	s.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go s.deliveryWorker()
	}

	return s
}

// SendMessage 发送消息
func (s *imServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	if senderID == 0 {
		return nil, ErrNotAuthenticated
	}
	targetID := req.TargetUserID
	if targetID == 0 || targetID == senderID {
		return nil, ErrTargetUserInvalid
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, ErrParamInvalid
	}
	payload, err := toPayload(req.Attachments)
	if err != nil {
		return nil, err
	}
	if err = s.checkMedia(ctx, payload); err != nil {
		return nil, err
	}

	// 写入不随调用方取消而中断，避免双写只完成一半
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	// 决策会话，指针插入冲突时重新读取一次
	res, err := s.resolve(writeCtx, senderID, targetID)
	if errors.Is(err, ErrThreadResolutionConflict) {
		log.WarnContext(ctx, "thread resolution conflict, retrying", "sender", senderID, "target", targetID)
		res, err = s.resolve(writeCtx, senderID, targetID)
	}
	if err != nil {
		return nil, err
	}

	// 逐个会话写入，任一失败回滚已写入的副本
	msgID := uuid.NewString()
	now := s.opts.Now()
	saved := make([]*mongo.Message, 0, 2)
	for _, thread := range res.Threads() {
		msg := &mongo.Message{
			MsgID:     msgID,
			ThreadID:  thread.String(),
			SenderID:  senderID,
			Content:   req.Content,
			Payload:   payload,
			State:     chat.StateSent,
			CreatedAt: now,
		}
		if err = s.messageRepo.SaveMessage(writeCtx, msg); err != nil {
			s.rollback(writeCtx, saved)
			return nil, errors.Wrapf(ErrStoreUnavailable, "save message to %s: %v", thread, err)
		}
		saved = append(saved, msg)
	}

	// 对方未读数 +1，软删除的对方以未读数 1 重新激活；失败时整条消息回滚
	if err = s.pointerRepo.BumpPeer(writeCtx, targetID, senderID, res.CounterpartRevive); err != nil {
		s.rollback(writeCtx, saved)
		return nil, errors.Wrapf(ErrStoreUnavailable, "bump peer pointer: %v", err)
	}

	s.reconcile(writeCtx, res.Threads()...)
	s.notifyPointers(writeCtx, senderID, targetID)
	s.notifyThreads(writeCtx, msgID, res.Threads()...)

	s.enqueueDelivery(deliveryTask{msgID: msgID, threads: res.Threads(), enqueuedAt: time.Now(), delay: s.opts.SettleDelay})
	s.emit(writeCtx, &dto.ChatEvent{
		Type:       "message_sent",
		MsgID:      msgID,
		ThreadID:   res.CounterpartThread.String(),
		SenderID:   senderID,
		ReceiverID: targetID,
		Preview:    chat.PreviewOf(req.Content, len(payload)),
		CreatedAt:  now,
	})

	log.InfoContext(ctx, "message sent",
		"msg_id", msgID,
		"rule", res.Rule.String(),
		"owner_thread", res.OwnerThread.String(),
		"counterpart_thread", res.CounterpartThread.String(),
	)
	return s.toMessageDTO(saved[0]), nil
}

// resolve 读取双方最新指针并决策，需要时初始化指针
func (s *imServiceImpl) resolve(ctx context.Context, ownerID, counterpartID uint64) (chat.Resolution, error) {
	op, err := s.pointerRepo.GetPointer(ctx, ownerID, counterpartID)
	if err != nil {
		return chat.Resolution{}, errors.Wrapf(ErrStoreUnavailable, "get pointer: %v", err)
	}
	cp, err := s.pointerRepo.GetPointer(ctx, counterpartID, ownerID)
	if err != nil {
		return chat.Resolution{}, errors.Wrapf(ErrStoreUnavailable, "get pointer: %v", err)
	}

	var history bool
	if op == nil || cp == nil {
		history, err = s.threadRepo.HasHistory(ctx, chat.PairKey(ownerID, counterpartID))
		if err != nil {
			return chat.Resolution{}, errors.Wrapf(ErrStoreUnavailable, "check history: %v", err)
		}
	}

	res := chat.Resolve(chat.Snapshot{
		Owner:              ownerID,
		Counterpart:        counterpartID,
		OwnerPointer:       op.State(),
		CounterpartPointer: cp.State(),
		HistoryExists:      history,
		Now:                s.opts.Now(),
	})

	if res.OwnerInit {
		if err = s.initPointer(ctx, ownerID, counterpartID, res.OwnerThread); err != nil {
			return chat.Resolution{}, err
		}
	}
	if res.CounterpartInit {
		if err = s.initPointer(ctx, counterpartID, ownerID, res.CounterpartThread); err != nil {
			return chat.Resolution{}, err
		}
	}
	if res.OwnerRevive {
		revived := false
		err = s.pointerRepo.SetOwnState(ctx, ownerID, ownerID, counterpartID, repository.OwnState{SoftDeleted: &revived})
		if err != nil {
			return chat.Resolution{}, errors.Wrapf(ErrStoreUnavailable, "revive pointer: %v", err)
		}
	}

	// 指针插入成功后再落会话主表，抢输的分叉不会留下记录；已存在时为空操作
	for _, thread := range res.Threads() {
		if err = s.threadRepo.EnsureThread(ctx, thread); err != nil {
			return chat.Resolution{}, errors.Wrapf(ErrStoreUnavailable, "ensure thread %s: %v", thread, err)
		}
	}
	return res, nil
}

func (s *imServiceImpl) initPointer(ctx context.Context, owner, counterpart uint64, thread chat.ThreadID) error {
	created, err := s.pointerRepo.CreatePointer(ctx, model.NewChatPointer(owner, counterpart, thread))
	if err != nil {
		return errors.Wrapf(ErrStoreUnavailable, "create pointer: %v", err)
	}
	if !created {
		return ErrThreadResolutionConflict
	}
	return nil
}

func (s *imServiceImpl) rollback(ctx context.Context, saved []*mongo.Message) {
	for _, m := range saved {
		if err := s.messageRepo.DeleteCopy(ctx, m.ID); err != nil {
			log.ErrorContext(ctx, "rollback message copy failed", "msg_id", m.MsgID, "thread", m.ThreadID, "err", err)
		}
	}
}

// EditMessage 编辑消息，对方已读后拒绝
func (s *imServiceImpl) EditMessage(ctx context.Context, userID uint64, msgID string, content string) (*dto.MessageDTO, error) {
	if userID == 0 {
		return nil, ErrNotAuthenticated
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrParamInvalid
	}

	copies, err := s.ownCopies(ctx, userID, msgID)
	if err != nil {
		return nil, err
	}
	for _, c := range copies {
		if c.Deleted {
			return nil, ErrMessageNotFound
		}
		if !c.State.CanEdit() {
			return nil, ErrMessageAlreadySeen
		}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	now := s.opts.Now()
	n, err := s.messageRepo.EditUnread(writeCtx, msgID, content, now)
	if err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "edit message: %v", err)
	}
	if n < int64(len(copies)) {
		// 编辑期间有副本变为已读，恢复原内容
		orig := copies[0]
		if err = s.messageRepo.RestoreContent(writeCtx, msgID, orig.Content, orig.Edited, orig.EditedAt); err != nil {
			log.ErrorContext(ctx, "restore edited message failed", "msg_id", msgID, "err", err)
		}
		return nil, ErrMessageAlreadySeen
	}

	threads := threadsOf(copies)
	s.reconcile(writeCtx, threads...)
	s.notifyThreads(writeCtx, msgID, threads...)

	own := s.senderCopy(ctx, userID, copies)
	own.Content = content
	own.Edited = true
	own.EditedAt = &now
	return s.toMessageDTO(own), nil
}

// senderCopy 发送方当前会话中的副本；发送方已清空会话时退回任一副本
func (s *imServiceImpl) senderCopy(ctx context.Context, userID uint64, copies []*mongo.Message) *mongo.Message {
	if len(copies) == 1 {
		return copies[0]
	}
	thread, err := chat.ParseThreadID(copies[0].ThreadID)
	if err != nil {
		return copies[0]
	}
	peerID, err := chat.PeerOf(thread.PairKey, userID)
	if err != nil {
		return copies[0]
	}
	p, err := s.pointerRepo.GetPointer(ctx, userID, peerID)
	if err != nil {
		log.WarnContext(ctx, "get sender pointer failed", "err", err)
		return copies[0]
	}
	if p == nil {
		return copies[0]
	}
	current := p.Thread().String()
	for _, c := range copies {
		if c.ThreadID == current {
			return c
		}
	}
	return copies[0]
}

// DeleteMessage 删除消息：未读的直接移除，已读的留下墓碑
func (s *imServiceImpl) DeleteMessage(ctx context.Context, userID uint64, msgID string) error {
	if userID == 0 {
		return ErrNotAuthenticated
	}

	copies, err := s.ownCopies(ctx, userID, msgID)
	if err != nil {
		return err
	}

	state := chat.StateSent
	deleted := true
	for _, c := range copies {
		if c.State > state {
			state = c.State
		}
		deleted = deleted && c.Deleted
	}
	if deleted {
		return nil
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	switch chat.DeletionFor(state) {
	case chat.DeleteRemove:
		removed, err := s.messageRepo.DeleteUnread(writeCtx, msgID)
		if err != nil {
			return errors.Wrapf(ErrStoreUnavailable, "delete message: %v", err)
		}
		if removed < int64(len(copies)) {
			// 删除期间变为已读的副本改为墓碑
			if _, err = s.messageRepo.Tombstone(writeCtx, msgID); err != nil {
				return errors.Wrapf(ErrStoreUnavailable, "tombstone message: %v", err)
			}
		}
	case chat.DeleteTombstone:
		if _, err = s.messageRepo.Tombstone(writeCtx, msgID); err != nil {
			return errors.Wrapf(ErrStoreUnavailable, "tombstone message: %v", err)
		}
	}

	threads := threadsOf(copies)
	s.reconcile(writeCtx, threads...)
	s.notifyThreads(writeCtx, msgID, threads...)
	return nil
}

// ownCopies 获取当前用户发送的消息的全部副本
func (s *imServiceImpl) ownCopies(ctx context.Context, userID uint64, msgID string) ([]*mongo.Message, error) {
	if msgID == "" {
		return nil, ErrParamInvalid
	}
	copies, err := s.messageRepo.GetByMsgID(ctx, msgID)
	if err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "get message: %v", err)
	}
	if len(copies) == 0 {
		return nil, ErrMessageNotFound
	}
	if copies[0].SenderID != userID {
		return nil, UnauthorizedError
	}
	return copies, nil
}

// GetChatHistory 拉取当前用户所在会话的历史消息
func (s *imServiceImpl) GetChatHistory(ctx context.Context, userID uint64, q *dto.HistoryQuery) ([]*dto.MessageDTO, error) {
	if userID == 0 {
		return nil, ErrNotAuthenticated
	}
	cursor, err := historyCursor(q)
	if err != nil {
		return nil, err
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = s.opts.PageSize
	}
	if pageSize > maxHistoryPageSize {
		pageSize = maxHistoryPageSize
	}

	p, err := s.pointerRepo.GetPointer(ctx, userID, q.PeerID)
	if err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "get pointer: %v", err)
	}
	if p == nil {
		return []*dto.MessageDTO{}, nil
	}

	models, err := s.messageRepo.GetHistory(ctx, p.Thread().String(), cursor, pageSize)
	if err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "get history: %v", err)
	}
	return s.toMessageDTOs(models), nil
}

func historyCursor(q *dto.HistoryQuery) (mongo.HistoryCursor, error) {
	var cursor mongo.HistoryCursor
	if q.Before > 0 {
		cursor.Before = time.UnixMilli(q.Before)
	}
	if q.BeforeID == "" {
		return cursor, nil
	}
	if cursor.Before.IsZero() {
		return cursor, ErrParamInvalid
	}
	id, err := primitive.ObjectIDFromHex(q.BeforeID)
	if err != nil {
		return cursor, ErrParamInvalid
	}
	cursor.BeforeID = id
	return cursor, nil
}

// GetConversationList 获取会话列表
func (s *imServiceImpl) GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error) {
	if userID == 0 {
		return nil, ErrNotAuthenticated
	}
	pointers, err := s.pointerRepo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "list pointers: %v", err)
	}

	peerIDs := make([]uint64, 0, len(pointers))
	for _, p := range pointers {
		peerIDs = append(peerIDs, p.CounterpartID)
	}
	profiles := make(map[uint64]*model.UserDetail, len(peerIDs))
	details, err := s.profileRepo.GetUserSimpleInfoByIds(ctx, peerIDs)
	if err != nil {
		// 资料缺失不影响会话列表
		log.WarnContext(ctx, "load peer profiles failed", "err", err)
	}
	for _, d := range details {
		profiles[d.UserID] = d
	}

	res := make([]*dto.ConversationDTO, 0, len(pointers))
	for _, p := range pointers {
		d := &dto.ConversationDTO{}
		if err = copier.Copy(d, p); err != nil {
			return nil, err
		}
		d.PeerID = p.CounterpartID
		d.ThreadID = p.Thread().String()
		d.PeerAvatarURL = consts.DefaultAvatarURL
		if info, ok := profiles[p.CounterpartID]; ok {
			d.PeerNickname = info.Nickname
			if info.AvatarURL != "" {
				d.PeerAvatarURL = info.AvatarURL
			}
		}
		res = append(res, d)
	}
	return res, nil
}

// MarkAsRead 将当前会话中对方发来的消息全部标记为已读并清零未读数
func (s *imServiceImpl) MarkAsRead(ctx context.Context, userID, peerID uint64) error {
	if userID == 0 {
		return ErrNotAuthenticated
	}
	p, err := s.pointerRepo.GetPointer(ctx, userID, peerID)
	if err != nil {
		return errors.Wrapf(ErrStoreUnavailable, "get pointer: %v", err)
	}
	if p == nil {
		return nil
	}
	return s.markRead(ctx, p)
}

func (s *imServiceImpl) markRead(ctx context.Context, p *model.ChatPointer) error {
	ids, err := s.messageRepo.FindUnreadIDs(ctx, p.Thread().String(), p.OwnerID)
	if err != nil {
		return errors.Wrapf(ErrStoreUnavailable, "find unread: %v", err)
	}
	n, err := s.messageRepo.AdvanceState(ctx, ids, chat.StateRead)
	if err != nil {
		return errors.Wrapf(ErrStoreUnavailable, "mark read: %v", err)
	}
	if p.UnreadCount > 0 {
		err = s.pointerRepo.SetOwnState(ctx, p.OwnerID, p.OwnerID, p.CounterpartID, repository.OwnState{ResetUnread: true})
		if err != nil {
			return errors.Wrapf(ErrStoreUnavailable, "reset unread: %v", err)
		}
		p.UnreadCount = 0
	}
	if n > 0 {
		// 发送方据此刷新已读状态
		s.publish(ctx, pointerChannel(p.CounterpartID, p.OwnerID), &dto.FeedEvent{Type: "read", ThreadID: p.Thread().String()})
	}
	return nil
}

// DeleteConversation 删除会话：软删除仅隐藏，硬删除移除指针，下次发送将分叉新会话
func (s *imServiceImpl) DeleteConversation(ctx context.Context, userID, peerID uint64, hard bool) error {
	if userID == 0 {
		return ErrNotAuthenticated
	}
	var err error
	if hard {
		err = s.pointerRepo.RemovePointer(ctx, userID, userID, peerID)
	} else {
		hidden := true
		err = s.pointerRepo.SetOwnState(ctx, userID, userID, peerID, repository.OwnState{SoftDeleted: &hidden, ResetUnread: true})
	}
	if err != nil {
		return errors.Wrapf(ErrStoreUnavailable, "delete conversation: %v", err)
	}
	s.publish(ctx, pointerChannel(userID, peerID), &dto.FeedEvent{Type: "pointer"})
	return nil
}

// PinConversation 置顶或取消置顶
func (s *imServiceImpl) PinConversation(ctx context.Context, userID, peerID uint64, pinned bool) error {
	return s.setOwnState(ctx, userID, peerID, repository.OwnState{Pinned: &pinned})
}

// MuteConversation 开启或关闭免打扰，免打扰的会话不计入全局未读
func (s *imServiceImpl) MuteConversation(ctx context.Context, userID, peerID uint64, muted bool) error {
	return s.setOwnState(ctx, userID, peerID, repository.OwnState{Muted: &muted})
}

func (s *imServiceImpl) setOwnState(ctx context.Context, userID, peerID uint64, st repository.OwnState) error {
	if userID == 0 {
		return ErrNotAuthenticated
	}
	p, err := s.pointerRepo.GetPointer(ctx, userID, peerID)
	if err != nil {
		return errors.Wrapf(ErrStoreUnavailable, "get pointer: %v", err)
	}
	if p == nil {
		return ErrConversationNotFound
	}
	if err = s.pointerRepo.SetOwnState(ctx, userID, userID, peerID, st); err != nil {
		return errors.Wrapf(ErrStoreUnavailable, "update conversation: %v", err)
	}
	s.publish(ctx, pointerChannel(userID, peerID), &dto.FeedEvent{Type: "pointer"})
	return nil
}

// GetTotalUnread 全局未读数
func (s *imServiceImpl) GetTotalUnread(ctx context.Context, userID uint64) (*dto.UnreadDTO, error) {
	if userID == 0 {
		return nil, ErrNotAuthenticated
	}
	total, err := s.pointerRepo.GetTotalUnreadCount(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(ErrStoreUnavailable, "count unread: %v", err)
	}
	return &dto.UnreadDTO{Total: total}, nil
}

// ReconcileThread 以最新一条未删除消息重写会话及其指针的摘要，可重复执行
func (s *imServiceImpl) ReconcileThread(ctx context.Context, thread chat.ThreadID) error {
	latest, err := s.messageRepo.LatestVisible(ctx, thread.String())
	if err != nil {
		return err
	}
	var sum chat.Summary
	if latest != nil {
		sum = latest.Summary()
	}
	if err = s.threadRepo.UpdateSummary(ctx, thread, sum); err != nil {
		return err
	}
	return s.pointerRepo.UpdateSummaryByThread(ctx, thread, sum)
}

// reconcile 重算失败的会话交给定时任务补偿
func (s *imServiceImpl) reconcile(ctx context.Context, threads ...chat.ThreadID) {
	for _, t := range threads {
		err := s.ReconcileThread(ctx, t)
		if err == nil {
			continue
		}
		log.ErrorContext(ctx, "reconcile thread failed", "thread", t.String(), "err", err)
		if s.opts.Dirty == nil {
			continue
		}
		if err = s.opts.Dirty.Mark(ctx, t.String()); err != nil {
			log.ErrorContext(ctx, "mark thread dirty failed", "thread", t.String(), "err", err)
		}
	}
}

// OpenSession 打开会话视图
func (s *imServiceImpl) OpenSession(ctx context.Context, userID, peerID uint64) (*Session, error) {
	if userID == 0 {
		return nil, ErrNotAuthenticated
	}
	if peerID == 0 || peerID == userID {
		return nil, ErrTargetUserInvalid
	}
	sess := newSession(s, userID, peerID)
	if err := sess.Open(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *imServiceImpl) Close() {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		log.Info("IMService shut down gracefully")
	})
}

func (s *imServiceImpl) enqueueDelivery(task deliveryTask) {
	select {
	case s.deliveryChan <- task:
	case <-s.stopChan:
	default:
		log.Warn("delivery queue full, message stays sent", "msg_id", task.msgID)
	}
}

// deliveryWorker 写入确认并经过等待期后将消息标记为已送达
func (s *imServiceImpl) deliveryWorker() {
	defer s.wg.Done()
	for {
		select {
		case task := <-s.deliveryChan:
			if wait := time.Until(task.enqueuedAt.Add(task.delay)); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-s.stopChan:
					timer.Stop()
					return
				}
			}
			s.deliver(task)
		case <-s.stopChan:
			return
		}
	}
}

func (s *imServiceImpl) deliver(task deliveryTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := s.messageRepo.AdvanceState(ctx, []string{task.msgID}, chat.StateDelivered)
	if err != nil {
		log.ErrorContext(ctx, "mark delivered failed", "msg_id", task.msgID, "err", err)
		return
	}
	if n > 0 {
		s.notifyThreads(ctx, task.msgID, task.threads...)
	}
}

func (s *imServiceImpl) emit(ctx context.Context, evt *dto.ChatEvent) {
	if s.opts.Emitter == nil {
		return
	}
	if err := s.opts.Emitter.EmitChatEvent(ctx, evt); err != nil {
		log.WarnContext(ctx, "emit chat event failed", "msg_id", evt.MsgID, "err", err)
	}
}

func (s *imServiceImpl) notifyPointers(ctx context.Context, a, b uint64) {
	evt := &dto.FeedEvent{Type: "pointer"}
	s.publish(ctx, pointerChannel(a, b), evt)
	s.publish(ctx, pointerChannel(b, a), evt)
}

func (s *imServiceImpl) notifyThreads(ctx context.Context, msgID string, threads ...chat.ThreadID) {
	for _, t := range threads {
		s.publish(ctx, threadChannel(t), &dto.FeedEvent{Type: "message", ThreadID: t.String(), MsgID: msgID})
	}
}

func (s *imServiceImpl) publish(ctx context.Context, channel string, evt *dto.FeedEvent) {
	if s.feed == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		log.ErrorContext(ctx, "marshal feed event failed", "err", err)
		return
	}
	if err = s.feed.Publish(ctx, channel, data); err != nil {
		log.WarnContext(ctx, "publish feed event failed", "channel", channel, "err", err)
	}
}

func pointerChannel(owner, counterpart uint64) string {
	return fmt.Sprintf("%s%d:%d", consts.IMPointerKey, owner, counterpart)
}

func threadChannel(t chat.ThreadID) string {
	return consts.IMThreadKey + t.String()
}

func threadsOf(copies []*mongo.Message) []chat.ThreadID {
	threads := make([]chat.ThreadID, 0, len(copies))
	for _, c := range copies {
		t, err := chat.ParseThreadID(c.ThreadID)
		if err != nil {
			log.Warn("skip message copy with invalid thread id", "thread", c.ThreadID, "err", err)
			continue
		}
		threads = append(threads, t)
	}
	return threads
}

func toPayload(reqs []dto.AttachmentReq) ([]mongo.Payload, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	payload := make([]mongo.Payload, 0, len(reqs))
	for _, a := range reqs {
		if !supportedMime(a.MimeType) {
			return nil, ErrAttachmentNotSupported
		}
		var p mongo.Payload
		if err := copier.Copy(&p, &a); err != nil {
			return nil, err
		}
		payload = append(payload, p)
	}
	return payload, nil
}

// checkMedia 附件必须已上传到对象存储
func (s *imServiceImpl) checkMedia(ctx context.Context, payload []mongo.Payload) error {
	if s.opts.MediaExists == nil {
		return nil
	}
	for _, p := range payload {
		ok, err := s.opts.MediaExists(ctx, p.MediaKey)
		if err != nil {
			return errors.Wrapf(ErrStoreUnavailable, "stat media %s: %v", p.MediaKey, err)
		}
		if !ok {
			return ErrAttachmentNotFound
		}
	}
	return nil
}

func supportedMime(mime string) bool {
	for _, prefix := range []string{consts.MimePrefixImage, consts.MimePrefixAudio, consts.MimePrefixVideo} {
		if strings.HasPrefix(mime, prefix+"/") {
			return true
		}
	}
	return false
}

func (s *imServiceImpl) toMessageDTO(m *mongo.Message) *dto.MessageDTO {
	d := &dto.MessageDTO{}
	_ = copier.Copy(d, m)
	d.ID = m.ID.Hex()
	d.DeliveryState = int8(m.State)
	d.Attachments = make([]*dto.AttachmentDTO, 0, len(m.Payload))
	for _, p := range m.Payload {
		a := &dto.AttachmentDTO{}
		_ = copier.Copy(a, &p)
		if !p.Locked && s.opts.MediaURL != nil {
			a.URL = s.opts.MediaURL(p.MediaKey)
		}
		d.Attachments = append(d.Attachments, a)
	}
	return d
}

func (s *imServiceImpl) toMessageDTOs(models []*mongo.Message) []*dto.MessageDTO {
	res := make([]*dto.MessageDTO, 0, len(models))
	for _, m := range models {
		res = append(res, s.toMessageDTO(m))
	}
	return res
}
