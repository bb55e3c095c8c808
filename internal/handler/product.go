package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/product"
)

// ListProducts returns every product in the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	products, err := h.products.List(ctx)
	if err != nil {
		internalError(w, r, "List products", err)
		return
	}
	categories, err := h.categoryNames(r)
	if err != nil {
		internalError(w, r, "List categories", err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range products {
				h.encodeProduct(e, p, categories)
			}
		})
	})
}

// GetProduct returns a single product by ID.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("productId"))
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		internalError(w, r, "Get product", err)
		return
	}
	categories, err := h.categoryNames(r)
	if err != nil {
		internalError(w, r, "List categories", err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeProduct(e, *p, categories)
	})
}

// ListCategories returns all categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.products.ListCategories(r.Context())
	if err != nil {
		internalError(w, r, "List categories", err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, c := range categories {
				e.Obj(func(e *jx.Encoder) {
					str(e, "id", c.ID)
					str(e, "name", c.Name)
				})
			}
		})
	})
}

// categoryNames loads the category lookup table for one request.
func (h *Handler) categoryNames(r *http.Request) (map[string]string, error) {
	categories, err := h.products.ListCategories(r.Context())
	if err != nil {
		return nil, err
	}
	return product.CategoryNames(categories), nil
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product, categories map[string]string) {
	base := h.imageBaseURL
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", p.ID)
		str(e, "name", p.Name)
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		str(e, "category", categories[p.CategoryID])
		str(e, "categoryId", p.CategoryID)
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		e.Field("image", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				str(e, "thumbnail", base+p.Image.Thumbnail)
				str(e, "mobile", base+p.Image.Mobile)
				str(e, "tablet", base+p.Image.Tablet)
				str(e, "desktop", base+p.Image.Desktop)
			})
		})
	})
}
