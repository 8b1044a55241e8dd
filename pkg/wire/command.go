package wire

// Commands issued by the client.
const (
	CmdGetServerStatus      = "get_server_status"
	CmdGetWatchableCount    = "get_watchable_count"
	CmdGetWatchableList     = "get_watchable_list"
	CmdSubscribeWatchable   = "subscribe_watchable"
	CmdUnsubscribeWatchable = "unsubscribe_watchable"
	CmdWriteWatchable       = "write_watchable"
)

// Messages sent by the server.
const (
	CmdInformServerStatus           = "inform_server_status"
	CmdResponseGetWatchableCount    = "response_get_watchable_count"
	CmdResponseGetWatchableList     = "response_get_watchable_list"
	CmdResponseSubscribeWatchable   = "response_subscribe_watchable"
	CmdResponseUnsubscribeWatchable = "response_unsubscribe_watchable"
	CmdResponseWriteWatchable       = "response_write_watchable"
	CmdWatchableUpdate              = "watchable_update"
	CmdError                        = "error"
)

// Watchable type names used in filters and per-type maps.
const (
	TypeVar   = "var"
	TypeAlias = "alias"
	TypeRPV   = "rpv"
)

// ListFilter restricts a watchable list request.
type ListFilter struct {
	Type []string `json:"type"`
}

// GetWatchableListParams are the parameters of CmdGetWatchableList.
type GetWatchableListParams struct {
	MaxPerResponse int        `json:"max_per_response"`
	Filter         ListFilter `json:"filter"`
}

// SubscriptionParams are the parameters of CmdSubscribeWatchable and
// CmdUnsubscribeWatchable.
type SubscriptionParams struct {
	ServerIDs []string `json:"server_ids"`
}

// WriteRequest is a single value write.
type WriteRequest struct {
	ServerID   string `json:"server_id"`
	Value      any    `json:"value"`
	BatchIndex int    `json:"batch_index"`
}

// WriteParams are the parameters of CmdWriteWatchable.
type WriteParams struct {
	Updates []WriteRequest `json:"updates"`
}
