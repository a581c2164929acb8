package bakery

import (
	"context"
	"strings"

	"github.com/warp/bakery-ops/docstore"
	"github.com/warp/bakery-ops/schema"
	"go.uber.org/zap"
)

// =============================================================================
// RETAIL REQUEST SERVICE - Restocking request lifecycle
// =============================================================================
//
// State machine:
//
//	pending --> fulfilled   (bakery marks it done)
//	pending --> cancelled
//
// fulfilled and cancelled are terminal. Marking a request fulfilled only
// flips its status; stock moves through Ledger.RecordFulfillment, which the
// fulfillment team runs separately.

type RequestService struct {
	store docstore.TxStore
	repos *Repositories
	opts  Options
	log   *zap.Logger
}

func NewRequestService(store docstore.TxStore, opts Options) *RequestService {
	opts = opts.withDefaults()
	return &RequestService{
		store: store,
		repos: NewRepositories(store),
		opts:  opts,
		log:   opts.Logger.Named("requests"),
	}
}

// RequestFilter narrows ListRequests. Empty fields match everything.
type RequestFilter struct {
	Status    RequestStatus
	ProductID string // acronym
}

// CreateRequest files a pending request for the actor.
func (s *RequestService) CreateRequest(ctx context.Context, actor Actor, acronym string, quantity int64, notes string) (*RetailRequest, error) {
	if err := Authorize(actor, OpCreateRequest); err != nil {
		return nil, err
	}
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	acronym = strings.TrimSpace(acronym)
	product, err := s.repos.Products.FindByAcronym(ctx, acronym)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, &NotFoundError{Kind: schema.KindProduct.Label(), ID: acronym}
	}

	raw := docstore.Document{
		"requestedBy": actor.UID,
		"productId":   acronym,
		"quantity":    quantity,
		"status":      string(StatusPending),
	}
	if notes != "" {
		raw["notes"] = notes
	}
	id, err := s.repos.RetailRequests.Create(ctx, raw)
	if err != nil {
		return nil, err
	}

	s.log.Info("retail request created",
		zap.String("request_id", id),
		zap.String("product", acronym),
		zap.Int64("quantity", quantity),
		zap.String("actor", actor.UID),
	)
	return s.repos.RetailRequests.MustGet(ctx, id)
}

// GetRequest returns one request. Retail users only see their own.
func (s *RequestService) GetRequest(ctx context.Context, actor Actor, id string) (*RetailRequest, error) {
	if err := Authorize(actor, OpReadRequests); err != nil {
		return nil, err
	}
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	req, err := s.repos.RetailRequests.MustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == RoleRetail && req.RequestedBy != actor.UID {
		return nil, &NotFoundError{Kind: schema.KindRetailRequest.Label(), ID: id}
	}
	return req, nil
}

// ListRequests returns requests newest first. Retail users only see their own.
func (s *RequestService) ListRequests(ctx context.Context, actor Actor, filter RequestFilter) ([]RetailRequest, error) {
	if err := Authorize(actor, OpReadRequests); err != nil {
		return nil, err
	}
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	q := docstore.Query{OrderBy: docstore.FieldCreatedAt, Desc: true}
	if actor.Role == RoleRetail {
		q.Where = append(q.Where, docstore.Eq("requestedBy", actor.UID))
	}
	if filter.Status != "" {
		q.Where = append(q.Where, docstore.Eq("status", string(filter.Status)))
	}
	if filter.ProductID != "" {
		q.Where = append(q.Where, docstore.Eq("productId", filter.ProductID))
	}
	return s.repos.RetailRequests.List(ctx, q)
}

// MarkFulfilled moves a pending request to fulfilled. Inventory is unchanged.
func (s *RequestService) MarkFulfilled(ctx context.Context, actor Actor, id string) (*RetailRequest, error) {
	if err := Authorize(actor, OpMarkRequestFulfilled); err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, id, StatusFulfilled)
}

// Cancel moves a pending request to cancelled.
func (s *RequestService) Cancel(ctx context.Context, actor Actor, id string) (*RetailRequest, error) {
	if err := Authorize(actor, OpCancelRequest); err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, id, StatusCancelled)
}

func (s *RequestService) transition(ctx context.Context, actor Actor, id string, to RequestStatus) (*RetailRequest, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	var updated *RetailRequest
	err := s.store.WithTx(ctx, func(tx docstore.Store) error {
		requests := NewRepositories(tx).RetailRequests
		req, err := requests.MustGet(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return &TransitionError{RequestID: id, From: req.Status, To: to}
		}
		if err := requests.Update(ctx, id, docstore.Document{"status": string(to)}); err != nil {
			return err
		}
		updated, err = requests.MustGet(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("retail request updated",
		zap.String("request_id", id),
		zap.String("status", string(to)),
		zap.String("actor", actor.UID),
	)
	return updated, nil
}
