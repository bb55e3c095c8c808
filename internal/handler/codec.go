package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes {"code": status, "message": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// money encodes an amount as a JSON number with exactly two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func str(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

// cartRequest is the body shared by coupon validation and order placement.
type cartRequest struct {
	CouponCode string
	UserID     string
	Items      []order.LineRequest
}

func decodeCartRequest(w http.ResponseWriter, r *http.Request) (cartRequest, error) {
	var req cartRequest
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodySize), 4096)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "couponCode":
			return optStr(d, &req.CouponCode)
		case "userId":
			return optStr(d, &req.UserID)
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				line, err := decodeLine(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, line)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return cartRequest{}, errors.Wrap(err, "decode request")
	}
	return req, nil
}

func decodeLine(d *jx.Decoder) (order.LineRequest, error) {
	var line order.LineRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "productId":
			v, err := d.Str()
			line.ProductID = v
			return err
		case "quantity":
			v, err := d.Int()
			line.Quantity = v
			return err
		default:
			return d.Skip()
		}
	})
	return line, err
}

// optStr decodes a string that may be null or absent.
func optStr(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
