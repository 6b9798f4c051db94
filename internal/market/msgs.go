package market

import (
	"encoding/json"
	"fmt"

	"github.com/atmx/range-exchange/internal/model"
)

// The wire protocol is a tagged union: every Request, Item, ItemUpdate,
// Query and Response carries a "type" (or "kind") discriminator and only
// the fields that variant uses. Unknown discriminators are rejected at
// decode time, before anything reaches the worker.

// RequestType discriminates Request variants.
type RequestType string

const (
	ReqCreate        RequestType = "create"
	ReqUpdate        RequestType = "update"
	ReqQuery         RequestType = "query"
	ReqDeclareRanges RequestType = "declare_ranges"
	ReqAdjustCredit  RequestType = "adjust_credit"
	ReqResolve       RequestType = "resolve"
	ReqRunSession    RequestType = "run_session"
	ReqOutcomes      RequestType = "outcomes"
)

// Request is one envelope submitted to the worker.
type Request struct {
	Type RequestType `json:"type"`

	// create
	Item *Item `json:"item,omitempty"`

	// update
	ID     string      `json:"id,omitempty"`
	Update *ItemUpdate `json:"update,omitempty"`

	// query
	Query *Query `json:"query,omitempty"`

	// declare_ranges / adjust_credit / outcomes
	Participant string        `json:"participant,omitempty"`
	Ranges      []model.Range `json:"ranges,omitempty"`
	Delta       int64         `json:"delta,omitempty"`

	// resolve
	Contract string `json:"contract,omitempty"`
	Outcome  bool   `json:"outcome,omitempty"`
}

// Validate checks that the variant's required fields are present.
func (r *Request) Validate() error {
	switch r.Type {
	case ReqCreate:
		if r.Item == nil {
			return fmt.Errorf("create: missing item")
		}
		return r.Item.validate()
	case ReqUpdate:
		if r.ID == "" {
			return fmt.Errorf("update: missing id")
		}
		if r.Update == nil {
			return fmt.Errorf("update: missing update")
		}
		return r.Update.validate()
	case ReqQuery:
		if r.Query == nil {
			return fmt.Errorf("query: missing query")
		}
		return r.Query.validate()
	case ReqDeclareRanges:
		if r.Participant == "" {
			return fmt.Errorf("declare_ranges: missing participant")
		}
		return nil
	case ReqAdjustCredit:
		if r.Participant == "" {
			return fmt.Errorf("adjust_credit: missing participant")
		}
		return nil
	case ReqResolve:
		if r.Contract == "" {
			return fmt.Errorf("resolve: missing contract")
		}
		return nil
	case ReqRunSession:
		return nil
	case ReqOutcomes:
		if r.Participant == "" {
			return fmt.Errorf("outcomes: missing participant")
		}
		return nil
	}
	return fmt.Errorf("unknown request type %q", r.Type)
}

// ItemKind discriminates creatable item kinds. The bookkeeping kinds
// (entity, rel, pred, depend, identity) are plain records with no
// exchange behavior.
type ItemKind string

const (
	ItemParticipant ItemKind = "participant"
	ItemContract    ItemKind = "contract"
	ItemEntity      ItemKind = "entity"
	ItemRel         ItemKind = "rel"
	ItemPred        ItemKind = "pred"
	ItemDepend      ItemKind = "depend"
	ItemIdentity    ItemKind = "identity"
)

// Item is the payload of a create request: exactly one variant set.
type Item struct {
	Kind ItemKind `json:"kind"`

	// participant / contract
	Name string `json:"name,omitempty"`

	// bookkeeping kinds
	Entity   *model.Entity   `json:"entity,omitempty"`
	Rel      *model.Rel      `json:"rel,omitempty"`
	Pred     *model.Pred     `json:"pred,omitempty"`
	Depend   *model.Depend   `json:"depend,omitempty"`
	Identity *model.Identity `json:"identity,omitempty"`
}

func (i *Item) validate() error {
	switch i.Kind {
	case ItemParticipant, ItemContract:
		if i.Name == "" {
			return fmt.Errorf("create %s: missing name", i.Kind)
		}
	case ItemEntity:
		if i.Entity == nil {
			return fmt.Errorf("create entity: missing payload")
		}
	case ItemRel:
		if i.Rel == nil {
			return fmt.Errorf("create rel: missing payload")
		}
	case ItemPred:
		if i.Pred == nil {
			return fmt.Errorf("create pred: missing payload")
		}
	case ItemDepend:
		if i.Depend == nil {
			return fmt.Errorf("create depend: missing payload")
		}
	case ItemIdentity:
		if i.Identity == nil {
			return fmt.Errorf("create identity: missing payload")
		}
	default:
		return fmt.Errorf("unknown item kind %q", i.Kind)
	}
	return nil
}

// UpdateType discriminates IOU update variants.
type UpdateType string

const (
	UpdateTransfer UpdateType = "transfer"
	UpdateVoid     UpdateType = "void"
)

// ItemUpdate mutates one IOU: transfer splits it across new holders,
// void cancels it.
type ItemUpdate struct {
	Type    UpdateType       `json:"type"`
	Holders map[string]int64 `json:"holders,omitempty"`
}

func (u *ItemUpdate) validate() error {
	switch u.Type {
	case UpdateTransfer:
		if len(u.Holders) == 0 {
			return fmt.Errorf("transfer: missing holders")
		}
		return nil
	case UpdateVoid:
		return nil
	}
	return fmt.Errorf("unknown update type %q", u.Type)
}

// QueryKind discriminates query targets.
type QueryKind string

const (
	QueryParticipants QueryKind = "participants"
	QueryContracts    QueryKind = "contracts"
	QueryIOUs         QueryKind = "ious"
	QueryEntities     QueryKind = "entities"
	QueryRels         QueryKind = "rels"
	QueryPreds        QueryKind = "preds"
	QueryDepends      QueryKind = "depends"
	QueryIdentities   QueryKind = "identities"
)

// Query selects one kind, optionally narrowed to a single ID.
type Query struct {
	Kind QueryKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

func (q *Query) validate() error {
	switch q.Kind {
	case QueryParticipants, QueryContracts, QueryIOUs,
		QueryEntities, QueryRels, QueryPreds, QueryDepends, QueryIdentities:
		return nil
	}
	return fmt.Errorf("unknown query kind %q", q.Kind)
}

// recordKind maps the bookkeeping queries and items onto store record
// kinds. Exchange kinds are not records and return "".
func (q QueryKind) recordKind() string {
	switch q {
	case QueryEntities:
		return "entity"
	case QueryRels:
		return "rel"
	case QueryPreds:
		return "pred"
	case QueryDepends:
		return "depend"
	case QueryIdentities:
		return "identity"
	}
	return ""
}

// ResponseType discriminates Response variants.
type ResponseType string

const (
	RespCreated  ResponseType = "created"
	RespUpdated  ResponseType = "updated"
	RespItems    ResponseType = "items"
	RespSession  ResponseType = "session"
	RespOutcomes ResponseType = "outcomes"
	RespError    ResponseType = "error"
)

// ErrorKind separates rejected requests from broken engine state.
type ErrorKind string

const (
	// ErrorBusiness: the request was well-formed but violates a business
	// rule. The ledger is unchanged; try a different request.
	ErrorBusiness ErrorKind = "business"
	// ErrorInvariant: the engine detected internally inconsistent state.
	// Nothing was committed; this is a defect worth a bug report.
	ErrorInvariant ErrorKind = "invariant"
	// ErrorInternal: storage or infrastructure failure.
	ErrorInternal ErrorKind = "internal"
)

// Response is the reply to one Request.
type Response struct {
	Type ResponseType `json:"type"`

	// created
	ID string `json:"id,omitempty"`

	// items
	Items json.RawMessage `json:"items,omitempty"`

	// session
	Session *model.SessionReport `json:"session,omitempty"`

	// outcomes
	Outcomes *model.OutcomeReport `json:"outcomes,omitempty"`

	// error
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
}

func itemsResponse(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse(ErrorInternal, err.Error())
	}
	return Response{Type: RespItems, Items: data}
}

func errorResponse(kind ErrorKind, message string) Response {
	return Response{Type: RespError, ErrorKind: kind, Message: message}
}
