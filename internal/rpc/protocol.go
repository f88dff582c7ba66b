// Package rpc implements the host/client split: a wire protocol with
// request/response correlation and query update pushes, pluggable
// transports, the host dispatcher and the client stub.
package rpc

import (
	"encoding/json"

	"driftdb/pkg/model"
)

// MessageType discriminates wire messages.
type MessageType string

const (
	TypeRequest     MessageType = "request"
	TypeResponse    MessageType = "response"
	TypeQueryUpdate MessageType = "queryUpdate"
	TypeReady       MessageType = "ready"
)

// Method names understood by the host dispatcher.
const (
	MethodRegisterCollection   = "registerCollection"
	MethodUnregisterCollection = "unregisterCollection"
	MethodInsert               = "insert"
	MethodUpdateOne            = "updateOne"
	MethodUpdateMany           = "updateMany"
	MethodReplaceOne           = "replaceOne"
	MethodRemoveOne            = "removeOne"
	MethodRemoveMany           = "removeMany"
	MethodExecuteQuery         = "executeQuery"
	MethodCount                = "count"
	MethodRegisterQuery        = "registerQuery"
	MethodUnregisterQuery      = "unregisterQuery"
	MethodWriteBatch           = "writeBatch"
)

// Message is the single wire envelope. Requests carry Method and Args;
// responses and pushes carry Data and optionally Error. Correlation is by
// (ID, WorkerID): a receiver silently drops messages for foreign workers.
type Message struct {
	ID       string          `json:"id,omitempty"`
	WorkerID string          `json:"workerId"`
	Type     MessageType     `json:"type"`
	Method   string          `json:"method,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// CallArgs is the argument envelope shared by all collection methods.
// Unused fields stay empty per method.
type CallArgs struct {
	Collection string         `json:"collection"`
	Document   model.Document `json:"document,omitempty"`
	Selector   model.Selector `json:"selector,omitempty"`
	Modifier   model.Modifier `json:"modifier,omitempty"`
	Options    model.Options  `json:"options,omitempty"`
}

// WriteOp is one coalesced write inside a writeBatch request.
type WriteOp struct {
	Method string   `json:"method"`
	Args   CallArgs `json:"args"`
}

// BatchArgs is the writeBatch request payload: writes issued in the same
// scheduling window against one collection.
type BatchArgs struct {
	Collection string    `json:"collection"`
	Ops        []WriteOp `json:"ops"`
}

// WriteResult is one slot of the parallel result array answered to a
// writeBatch; results are positionally matched to BatchArgs.Ops.
type WriteResult struct {
	Items []model.Document `json:"items,omitempty"`
	Error string           `json:"error,omitempty"`
}

// CountResult is the count response payload.
type CountResult struct {
	Count int `json:"count"`
}

// QueryUpdate is the push payload for a live query transition.
type QueryUpdate struct {
	Collection string           `json:"collection"`
	QueryID    string           `json:"queryId"`
	Selector   model.Selector   `json:"selector"`
	Options    model.Options    `json:"options"`
	State      model.QueryState `json:"state"`
	Items      []model.Document `json:"items,omitempty"`
	Error      string           `json:"error,omitempty"`
}
