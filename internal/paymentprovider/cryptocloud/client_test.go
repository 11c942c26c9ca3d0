package cryptocloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInvoice(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		want    *Invoice
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"status":"success","result":{"uuid":"INV-1","link":"https://pay.cryptocloud.plus/INV-1"}}`,
			want:   &Invoice{UUID: "INV-1", Link: "https://pay.cryptocloud.plus/INV-1"},
		},
		{
			name:    "rejected",
			status:  http.StatusOK,
			body:    `{"status":"error","result":{}}`,
			wantErr: ErrRejected,
		},
		{
			name:   "http error",
			status: http.StatusUnauthorized,
			body:   `{"detail":"bad token"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/invoice/create", r.URL.Path)
				assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
				var req CreateInvoiceRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "shop", req.ShopID)
				assert.Equal(t, int64(499), req.Amount)
				assert.Equal(t, "42", req.OrderID)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL+"/", "shop", "secret")
			inv, err := c.CreateInvoice(context.Background(), 499, "RUB", "42", "Premium")
			switch {
			case tt.want != nil:
				require.NoError(t, err)
				assert.Equal(t, tt.want, inv)
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			default:
				require.Error(t, err)
			}
		})
	}
}

func TestInvoiceInfo(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantPaid bool
		wantErr  error
	}{
		{name: "paid", body: `{"status":"success","result":[{"uuid":"INV-1","status":"paid"}]}`, wantPaid: true},
		{name: "overpaid", body: `{"status":"success","result":[{"uuid":"INV-1","status":"overpaid"}]}`, wantPaid: true},
		{name: "created", body: `{"status":"success","result":[{"uuid":"INV-1","status":"created"}]}`},
		{name: "empty", body: `{"status":"success","result":[]}`, wantErr: ErrInvoiceNotFound},
		{name: "rejected", body: `{"status":"error"}`, wantErr: ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/invoice/merchant/info", r.URL.Path)
				var req invoiceInfoRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, []string{"INV-1"}, req.UUIDs)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			info, err := NewClient(srv.URL, "shop", "secret").InvoiceInfo(context.Background(), "INV-1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPaid, info.Paid())
		})
	}
}
