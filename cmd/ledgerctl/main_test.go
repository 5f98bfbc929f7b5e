package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"sheetledger/internal/ledger"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DATA_BACKEND", "PER_DAY_MODE", "JOURNAL_DB_PATH", "AMQP_URL", "ASYNC_APPEND", "HEADER_ROW", "FIRST_DATA_ROW", "PORT"} {
		t.Setenv(key, "")
	}
}

func TestColumnCommand(t *testing.T) {
	out, err := run(t, "column", "AA")
	if err != nil {
		t.Fatalf("column AA: %v", err)
	}
	if strings.TrimSpace(out) != `{"letter":"AA","index":26}` {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = run(t, "column", "0", "zz")
	if err != nil {
		t.Fatalf("column 0 zz: %v", err)
	}
	var got []struct {
		Letter string `json:"letter"`
		Index  int    `json:"index"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got) != 2 || got[0].Letter != "A" || got[1].Index != 701 {
		t.Fatalf("unexpected conversions %+v", got)
	}

	if _, err := run(t, "column", "A1"); err == nil {
		t.Fatal("mixed letters and digits should fail")
	}
}

func TestAppendAndLastOnWorkbook(t *testing.T) {
	isolateEnv(t)
	book := filepath.Join(t.TempDir(), "ledger.xlsx")
	common := []string{"--backend", "xlsx", "--xlsx", book, "--sheet", "T", "--header", "Date"}

	out, err := run(t, append([]string{"append", "--day", "4", "--note", "bread", "--price", "3,5", "--cash"}, common...)...)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	var res ledger.AppendResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode append output %q: %v", out, err)
	}
	if res.Range != "A2:D2" || res.Price != 3.5 || !res.PaidByCash {
		t.Fatalf("unexpected append result %+v", res)
	}

	if _, err := run(t, append([]string{"append", "--note", "milk", "--price", "1.2"}, common...)...); err != nil {
		t.Fatalf("second append: %v", err)
	}

	out, err = run(t, append([]string{"last", "-n", "2"}, common...)...)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	var entries []ledger.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode last output %q: %v", out, err)
	}
	if len(entries) != 2 || entries[0].Note != "milk" || entries[1].Note != "bread" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	out, err = run(t, append([]string{"first-empty", "B"}, common...)...)
	if err != nil {
		t.Fatalf("first-empty: %v", err)
	}
	if !strings.Contains(out, `"cell":"B4"`) {
		t.Fatalf("unexpected first-empty output %q", out)
	}

	if _, err := run(t, append([]string{"append", "--price", "abc"}, common...)...); err == nil {
		t.Fatal("invalid price should fail")
	}
}
