package bakery

import (
	"context"

	"github.com/warp/bakery-ops/docstore"
	"go.uber.org/zap"
)

// =============================================================================
// CATALOG - Role-checked CRUD for products, oil batches and users
// =============================================================================

type Catalog struct {
	repos *Repositories
	opts  Options
	log   *zap.Logger
}

func NewCatalog(store docstore.Store, opts Options) *Catalog {
	opts = opts.withDefaults()
	return &Catalog{
		repos: NewRepositories(store),
		opts:  opts,
		log:   opts.Logger.Named("catalog"),
	}
}

// ----------------------------------------------------------------------------
// Products
// ----------------------------------------------------------------------------

// ListProducts returns products sorted by acronym.
func (c *Catalog) ListProducts(ctx context.Context, actor Actor, activeOnly bool) ([]Product, error) {
	if err := Authorize(actor, OpReadProducts); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()

	q := docstore.Query{OrderBy: "acronym"}
	if activeOnly {
		q.Where = []docstore.Filter{docstore.Eq("active", true)}
	}
	return c.repos.Products.List(ctx, q)
}

func (c *Catalog) GetProduct(ctx context.Context, actor Actor, id string) (*Product, error) {
	if err := Authorize(actor, OpReadProducts); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	return c.repos.Products.MustGet(ctx, id)
}

func (c *Catalog) CreateProduct(ctx context.Context, actor Actor, raw docstore.Document) (*Product, error) {
	if err := Authorize(actor, OpWriteProducts); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	product, err := createAndGet(ctx, c.repos.Products.Repository, raw)
	if err == nil {
		c.log.Info("product created", zap.String("id", product.ID), zap.String("acronym", product.Acronym), zap.String("actor", actor.UID))
	}
	return product, err
}

func (c *Catalog) UpdateProduct(ctx context.Context, actor Actor, id string, fields docstore.Document) (*Product, error) {
	if err := Authorize(actor, OpWriteProducts); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	return updateAndGet(ctx, c.repos.Products.Repository, id, fields)
}

// DeleteProduct removes the product only; its batches, inventory record and
// logs stay behind.
func (c *Catalog) DeleteProduct(ctx context.Context, actor Actor, id string) error {
	if err := Authorize(actor, OpWriteProducts); err != nil {
		return err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	if err := c.repos.Products.Delete(ctx, id); err != nil {
		return err
	}
	c.log.Info("product deleted", zap.String("id", id), zap.String("actor", actor.UID))
	return nil
}

// ----------------------------------------------------------------------------
// Oil batches
// ----------------------------------------------------------------------------

// ListOilBatches returns oil batches, most recently received first.
func (c *Catalog) ListOilBatches(ctx context.Context, actor Actor) ([]OilBatch, error) {
	if err := Authorize(actor, OpReadOilBatches); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	return c.repos.OilBatches.List(ctx, docstore.Query{OrderBy: "dateReceived", Desc: true})
}

func (c *Catalog) GetOilBatch(ctx context.Context, actor Actor, id string) (*OilBatch, error) {
	if err := Authorize(actor, OpReadOilBatches); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	return c.repos.OilBatches.MustGet(ctx, id)
}

func (c *Catalog) CreateOilBatch(ctx context.Context, actor Actor, raw docstore.Document) (*OilBatch, error) {
	if err := Authorize(actor, OpWriteOilBatches); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	oil, err := createAndGet(ctx, c.repos.OilBatches, raw)
	if err == nil {
		c.log.Info("oil batch received", zap.String("id", oil.ID), zap.String("code", oil.OilBatchCode), zap.String("actor", actor.UID))
	}
	return oil, err
}

func (c *Catalog) UpdateOilBatch(ctx context.Context, actor Actor, id string, fields docstore.Document) (*OilBatch, error) {
	if err := Authorize(actor, OpWriteOilBatches); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	return updateAndGet(ctx, c.repos.OilBatches, id, fields)
}

func (c *Catalog) DeleteOilBatch(ctx context.Context, actor Actor, id string) error {
	if err := Authorize(actor, OpWriteOilBatches); err != nil {
		return err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	return c.repos.OilBatches.Delete(ctx, id)
}

// ----------------------------------------------------------------------------
// Users (created through auth.Service.Register)
// ----------------------------------------------------------------------------

// ListUsers returns every user without password hashes.
func (c *Catalog) ListUsers(ctx context.Context, actor Actor) ([]User, error) {
	if err := Authorize(actor, OpManageUsers); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	users, err := c.repos.Users.List(ctx, docstore.Query{OrderBy: "email"})
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, err
}

// GetUser returns a user. Anyone may read their own record.
func (c *Catalog) GetUser(ctx context.Context, actor Actor, uid string) (*User, error) {
	if actor.UID != uid {
		if err := Authorize(actor, OpManageUsers); err != nil {
			return nil, err
		}
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	user, err := c.repos.Users.MustGet(ctx, uid)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

func (c *Catalog) UpdateUser(ctx context.Context, actor Actor, uid string, fields docstore.Document) (*User, error) {
	if err := Authorize(actor, OpManageUsers); err != nil {
		return nil, err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	delete(fields, "passwordHash")
	user, err := updateAndGet(ctx, c.repos.Users, uid, fields)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	c.log.Info("user updated", zap.String("uid", uid), zap.String("role", string(user.Role)), zap.String("actor", actor.UID))
	return user, nil
}

func (c *Catalog) DeleteUser(ctx context.Context, actor Actor, uid string) error {
	if err := Authorize(actor, OpManageUsers); err != nil {
		return err
	}
	ctx, cancel := c.opts.bound(ctx)
	defer cancel()
	return c.repos.Users.Delete(ctx, uid)
}

// =============================================================================
// HELPERS
// =============================================================================

func createAndGet[T any](ctx context.Context, repo *Repository[T], raw docstore.Document) (*T, error) {
	id, err := repo.Create(ctx, raw)
	if err != nil {
		return nil, err
	}
	return repo.MustGet(ctx, id)
}

func updateAndGet[T any](ctx context.Context, repo *Repository[T], id string, fields docstore.Document) (*T, error) {
	if err := repo.Update(ctx, id, fields); err != nil {
		return nil, err
	}
	return repo.MustGet(ctx, id)
}
