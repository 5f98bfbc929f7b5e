package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sheetledger/internal/core"
)

func newParser(t *testing.T, body string) *RequestBodyParser {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/addTransaction", strings.NewReader(body))
	p := NewRequestBodyParser(httptest.NewRecorder(), req)
	if err := p.Parse(); err != nil {
		t.Fatalf("Parse(%q): %v", body, err)
	}
	return p
}

func TestRequestBodyParserJSONAndForm(t *testing.T) {
	p := newParser(t, `{"note":"  coffee\u0007 ","price":1.5,"flag":true,"empty":null}`)
	if !p.IsJSON() {
		t.Fatal("expected JSON body")
	}
	if got := p.Get("note"); got != "coffee" {
		t.Errorf("Get(note) = %q, want control characters and spaces stripped", got)
	}
	if got := p.Get("price"); got != "1.5" {
		t.Errorf("Get(price) = %q", got)
	}
	if !p.Has("flag") || p.Has("empty") || p.Has("missing") {
		t.Error("Has should report present non-null keys only")
	}

	f := newParser(t, "note=bread&price=2%2C5")
	if f.IsJSON() {
		t.Fatal("expected form body")
	}
	if f.Get("note") != "bread" || f.Get("price") != "2,5" {
		t.Errorf("form values = %q, %q", f.Get("note"), f.Get("price"))
	}
}

func TestRequestBodyParserRejectsOversizedBody(t *testing.T) {
	body := `{"note":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/addTransaction", strings.NewReader(body))
	p := NewRequestBodyParser(httptest.NewRecorder(), req)
	if err := p.Parse(); err == nil {
		t.Fatal("expected an error for a body above the limit")
	}
}

func TestRequestBodyParserBool(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"isPaybyCash":true}`, true},
		{`{"isPaybyCash":false,"paidByCash":true}`, false},
		{`{"paidByCash":true}`, true},
		{`{"isPaybyCash":1}`, true},
		{`{"isPaybyCash":"x"}`, true},
		{`{"isPaybyCash":"no"}`, false},
		{`isPaybyCash=on`, true},
		{`isPaybyCash=`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		if got := newParser(t, tt.body).Bool("isPaybyCash", "paidByCash"); got != tt.want {
			t.Errorf("Bool(%s) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestParseTransaction(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    core.NewTransaction
		wantErr error
	}{
		{
			name: "numeric day and price",
			body: `{"day":3,"note":"lunch","price":12.5,"isPaybyCash":true,"isCountForNhi":true}`,
			want: core.NewTransaction{Day: "3", Note: "lunch", Price: 12.5, PaidByCash: true, CountForSummary: true},
		},
		{
			name: "string day, comma price",
			body: `{"day":"07","note":"bus","price":"1,80"}`,
			want: core.NewTransaction{Day: "07", Note: "bus", Price: 1.8},
		},
		{
			name: "null day means today",
			body: `{"day":null,"price":4}`,
			want: core.NewTransaction{Price: 4},
		},
		{
			name: "form body",
			body: "day=&note=gift&price=30&countForSummary=true",
			want: core.NewTransaction{Note: "gift", Price: 30, CountForSummary: true},
		},
		{name: "missing price", body: `{"note":"x"}`, wantErr: core.ErrInvalidFormat},
		{name: "bad price", body: `{"price":"ten"}`, wantErr: core.ErrInvalidPrice},
		{name: "boolean price", body: `{"price":true}`, wantErr: core.ErrInvalidPrice},
		{name: "fractional day", body: `{"day":2.5,"price":1}`, wantErr: core.ErrInvalidDay},
		{name: "word day", body: `{"day":"today","price":1}`, wantErr: core.ErrInvalidDay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTransaction(newParser(t, tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
