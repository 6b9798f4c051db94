package market

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/atmx/range-exchange/internal/match"
	"github.com/atmx/range-exchange/internal/metrics"
	"github.com/atmx/range-exchange/internal/model"
)

// Worker serializes all ledger access onto one goroutine. Callers submit
// envelopes through a bounded channel and wait on a per-request reply
// channel; the Market itself never sees concurrency.
type Worker struct {
	market   *Market
	hub      *Hub // optional; nil disables broadcasting
	requests chan pending
}

type pending struct {
	req   Request
	reply chan Response
}

// NewWorker creates a worker over the market with the given queue depth.
func NewWorker(m *Market, hub *Hub, queue int) *Worker {
	return &Worker{
		market:   m,
		hub:      hub,
		requests: make(chan pending, queue),
	}
}

// Run drains the queue until ctx is cancelled. Must be called in exactly
// one goroutine.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-w.requests:
			metrics.WorkerQueueDepth.Dec()
			p.reply <- w.handle(ctx, p.req)
		}
	}
}

// Submit enqueues one request and waits for its reply.
func (w *Worker) Submit(ctx context.Context, req Request) (Response, error) {
	p := pending{req: req, reply: make(chan Response, 1)}
	select {
	case w.requests <- p:
		metrics.WorkerQueueDepth.Inc()
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case resp := <-p.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (w *Worker) handle(ctx context.Context, req Request) Response {
	if err := req.Validate(); err != nil {
		return errorResponse(ErrorBusiness, err.Error())
	}

	switch req.Type {
	case ReqCreate:
		return w.handleCreate(ctx, req.Item)

	case ReqUpdate:
		switch req.Update.Type {
		case UpdateTransfer:
			if err := w.market.SplitIOU(ctx, req.ID, req.Update.Holders); err != nil {
				return failure(err)
			}
		case UpdateVoid:
			if err := w.market.VoidIOU(ctx, req.ID); err != nil {
				return failure(err)
			}
		}
		return Response{Type: RespUpdated}

	case ReqQuery:
		return w.handleQuery(ctx, req.Query)

	case ReqDeclareRanges:
		if err := w.market.DeclareRanges(ctx, req.Participant, req.Ranges); err != nil {
			return failure(err)
		}
		return Response{Type: RespUpdated}

	case ReqAdjustCredit:
		if err := w.market.AdjustCredit(ctx, req.Participant, req.Delta); err != nil {
			return failure(err)
		}
		return Response{Type: RespUpdated}

	case ReqResolve:
		return w.handleResolve(ctx, req.Contract, req.Outcome)

	case ReqRunSession:
		return w.handleSession(ctx)

	case ReqOutcomes:
		report, err := w.market.Outcomes(req.Participant)
		if err != nil {
			return failure(err)
		}
		return Response{Type: RespOutcomes, Outcomes: report}
	}
	return errorResponse(ErrorBusiness, "unknown request type")
}

func (w *Worker) handleCreate(ctx context.Context, item *Item) Response {
	switch item.Kind {
	case ItemParticipant:
		id, err := w.market.CreateParticipant(ctx, item.Name)
		if err != nil {
			return failure(err)
		}
		return Response{Type: RespCreated, ID: id}

	case ItemContract:
		id, err := w.market.CreateContract(ctx, item.Name)
		if err != nil {
			return failure(err)
		}
		return Response{Type: RespCreated, ID: id}
	}

	// Bookkeeping kinds: assign identity, then store as an opaque record.
	kind, id, payload, err := w.stampRecord(item)
	if err != nil {
		return failure(err)
	}
	rec := model.Record{Kind: kind, ID: id, Data: payload, CreatedAt: w.market.now()}
	if err := w.market.PutRecord(ctx, &rec); err != nil {
		return failure(err)
	}
	return Response{Type: RespCreated, ID: id}
}

// stampRecord assigns an ID and creation time to a bookkeeping item and
// serializes it.
func (w *Worker) stampRecord(item *Item) (kind, id string, data []byte, err error) {
	id = w.market.newID()
	now := w.market.now()

	var v any
	switch item.Kind {
	case ItemEntity:
		e := *item.Entity
		e.ID, e.CreatedAt = id, now
		kind, v = "entity", e
	case ItemRel:
		r := *item.Rel
		r.ID, r.CreatedAt = id, now
		kind, v = "rel", r
	case ItemPred:
		p := *item.Pred
		p.ID, p.CreatedAt = id, now
		kind, v = "pred", p
	case ItemDepend:
		d := *item.Depend
		d.ID, d.CreatedAt = id, now
		kind, v = "depend", d
	case ItemIdentity:
		ident := *item.Identity
		if _, err := w.market.Participant(ident.Participant); err != nil {
			return "", "", nil, err
		}
		ident.ID, ident.CreatedAt = id, now
		kind, v = "identity", ident
	}

	data, err = json.Marshal(v)
	return kind, id, data, err
}

func (w *Worker) handleQuery(ctx context.Context, q *Query) Response {
	switch q.Kind {
	case QueryParticipants:
		if q.ID != "" {
			p, err := w.market.Participant(q.ID)
			if err != nil {
				return failure(err)
			}
			return itemsResponse(p)
		}
		return itemsResponse(w.market.Participants())

	case QueryContracts:
		if q.ID != "" {
			c, err := w.market.Contract(q.ID)
			if err != nil {
				return failure(err)
			}
			return itemsResponse(c)
		}
		return itemsResponse(w.market.Contracts())

	case QueryIOUs:
		if q.ID != "" {
			iou, err := w.market.IOU(q.ID)
			if err != nil {
				return failure(err)
			}
			return itemsResponse(iou)
		}
		return itemsResponse(w.market.IOUs())
	}

	kind := q.Kind.recordKind()
	if q.ID != "" {
		rec, err := w.market.Record(ctx, kind, q.ID)
		if err != nil {
			return failure(err)
		}
		return Response{Type: RespItems, Items: rec.Data}
	}
	recs, err := w.market.Records(ctx, kind)
	if err != nil {
		return failure(err)
	}
	items := make([]json.RawMessage, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.Data)
	}
	return itemsResponse(items)
}

func (w *Worker) handleResolve(ctx context.Context, contractID string, outcome bool) Response {
	c, err := w.market.Contract(contractID)
	if err != nil {
		return failure(err)
	}
	if err := w.market.ResolveContract(ctx, contractID, outcome); err != nil {
		return failure(err)
	}
	metrics.ContractsResolved.WithLabelValues(strconv.FormatBool(outcome)).Inc()
	if w.hub != nil {
		w.hub.Broadcast(Message{
			Type:     "resolution",
			Contract: c.Name,
			Outcome:  outcome,
		})
	}
	return Response{Type: RespUpdated}
}

func (w *Worker) handleSession(ctx context.Context) Response {
	start := time.Now()
	report, err := w.market.RunSession(ctx)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues("error").Inc()
		return failure(err)
	}
	metrics.SessionsTotal.WithLabelValues("ok").Inc()
	metrics.SessionDuration.Observe(time.Since(start).Seconds())
	metrics.IOUsMinted.Add(float64(2 * len(report.Trades)))

	for _, t := range report.Trades {
		name := t.ContractID
		if c, err := w.market.Contract(t.ContractID); err == nil {
			name = c.Name
		}
		metrics.TradesTotal.WithLabelValues(name).Inc()
		metrics.TradeVolume.WithLabelValues(name).Add(float64(t.Units))
		if w.hub != nil {
			w.hub.Broadcast(Message{
				Type:     "trade",
				Contract: name,
				Buyer:    t.Buyer,
				Seller:   t.Seller,
				Price:    t.Price,
				Units:    t.Units,
			})
		}
	}
	return Response{Type: RespSession, Session: report}
}

// failure maps an operation error onto the response error taxonomy.
func failure(err error) Response {
	var inv *match.InvariantError
	if errors.As(err, &inv) {
		slog.Error("invariant violation", "err", err)
		return errorResponse(ErrorInvariant, err.Error())
	}
	if isBusiness(err) {
		metrics.RequestsRejected.Inc()
		return errorResponse(ErrorBusiness, err.Error())
	}
	slog.Error("request failed", "err", err)
	return errorResponse(ErrorInternal, err.Error())
}

func isBusiness(err error) bool {
	for _, sentinel := range []error{
		model.ErrUnknownParticipant,
		model.ErrUnknownContract,
		model.ErrUnknownIOU,
		model.ErrUnknownRecord,
		model.ErrDuplicateName,
		model.ErrInvalidName,
		model.ErrInvalidRange,
		model.ErrContractResolved,
		model.ErrNegativeCredit,
		model.ErrInvalidSplit,
		model.ErrIOUSettled,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
