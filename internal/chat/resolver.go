package chat

import "time"

// Rule 决定发送方会话 ID 时命中的规则, 按优先级排列
type Rule int

const (
	// RuleStickyFork 发送方已持有分叉会话, 原样复用
	RuleStickyFork Rule = iota + 1
	// RuleOwnerWiped 发送方指针已被硬删除, 为其分叉新会话
	RuleOwnerWiped
	// RuleCounterpartWiped 对方指针已被硬删除, 发送方保留原会话, 对方单独分叉
	RuleCounterpartWiped
	// RuleShared 双方都未删除
	RuleShared
)

func (r Rule) String() string {
	switch r {
	case RuleStickyFork:
		return "sticky_fork"
	case RuleOwnerWiped:
		return "owner_wiped"
	case RuleCounterpartWiped:
		return "counterpart_wiped"
	case RuleShared:
		return "shared"
	}
	return "unknown"
}

// PointerState 决策所需的指针快照, nil 指针表示记录不存在
type PointerState struct {
	Thread      ThreadID
	SoftDeleted bool
}

// Snapshot 发送前读取到的双方状态
type Snapshot struct {
	Owner              uint64
	Counterpart        uint64
	OwnerPointer       *PointerState
	CounterpartPointer *PointerState
	// HistoryExists 该会话对是否创建过任何会话; 指针缺失且存在历史即为硬删除
	HistoryExists bool
	Now           time.Time
}

// Resolution 决策结果: 双方各自写入的会话, 以及需要执行的指针变更
type Resolution struct {
	Rule              Rule
	OwnerThread       ThreadID
	CounterpartThread ThreadID
	// OwnerInit / CounterpartInit 需要新建指针记录 (唯一允许写入会话 ID 的时机)
	OwnerInit       bool
	CounterpartInit bool
	// OwnerRevive 发送方软删除标记需清除
	OwnerRevive bool
	// CounterpartRevive 对方处于软删除, 需以未读数 1 重新激活
	CounterpartRevive bool
}

// Asymmetric 双方会话不同, 新消息需要双写
func (r Resolution) Asymmetric() bool {
	return r.OwnerThread != r.CounterpartThread
}

// Threads 本次发送需要写入的全部会话, 发送方的在前
func (r Resolution) Threads() []ThreadID {
	if r.Asymmetric() {
		return []ThreadID{r.OwnerThread, r.CounterpartThread}
	}
	return []ThreadID{r.OwnerThread}
}

// Resolve 纯函数: 根据双方指针决定新消息写入的会话
// 已存在指针的会话 ID 永远不会被改写, 分叉不会被合并
func Resolve(s Snapshot) Resolution {
	pair := PairKey(s.Owner, s.Counterpart)
	op, cp := s.OwnerPointer, s.CounterpartPointer

	var r Resolution
	switch {
	case op != nil && op.Thread.IsForked():
		r.Rule = RuleStickyFork
		r.OwnerThread = op.Thread
		r.OwnerRevive = op.SoftDeleted
	case op == nil && s.HistoryExists:
		r.Rule = RuleOwnerWiped
		r.OwnerThread = Forked(pair, s.Now)
		r.OwnerInit = true
	case cp == nil && s.HistoryExists:
		r.Rule = RuleCounterpartWiped
		r.OwnerThread = op.Thread
		r.OwnerRevive = op.SoftDeleted
	default:
		r.Rule = RuleShared
		switch {
		case op != nil:
			r.OwnerThread = op.Thread
			r.OwnerRevive = op.SoftDeleted
		case cp != nil:
			r.OwnerThread = cp.Thread
			r.OwnerInit = true
		default:
			r.OwnerThread = Canonical(s.Owner, s.Counterpart)
			r.OwnerInit = true
		}
	}

	switch {
	case cp != nil:
		r.CounterpartThread = cp.Thread
		r.CounterpartRevive = cp.SoftDeleted
	case s.HistoryExists && !r.OwnerInit:
		// 对方清空过会话而发送方保留历史: 为对方单独分叉
		fork := Forked(pair, s.Now)
		if fork == r.OwnerThread {
			fork.ForkedAt++
		}
		r.CounterpartThread = fork
		r.CounterpartInit = true
	default:
		r.CounterpartThread = r.OwnerThread
		r.CounterpartInit = true
	}
	return r
}
