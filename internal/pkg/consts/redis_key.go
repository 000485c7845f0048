package consts

const (
	IMPointerKey     = "im:pointer:" // im:pointer:{owner}:{counterpart}
	IMThreadKey      = "im:thread:"  // im:thread:{threadID}
	IMThreadDirtyKey = "im:thread:dirty"
)

const (
	IMThreadReconcileLock = "lock:im:thread:reconcile"
)
