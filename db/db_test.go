package db

import (
	"testing"

	"clarify/store"

	"go.mongodb.org/mongo-driver/bson"
)

func TestExtractDBName(t *testing.T) {
	cases := map[string]string{
		"mongodb://localhost:27017/clarify_prod": "clarify_prod",
		"mongodb://localhost:27017/":             "clarify",
		"mongodb://localhost:27017":              "clarify",
	}
	for uri, want := range cases {
		if got := extractDBName(uri); got != want {
			t.Errorf("extractDBName(%q) = %q, want %q", uri, got, want)
		}
	}
}

func TestSortOrder(t *testing.T) {
	if f, d := sortOrder("-sent_at"); f != "sent_at" || d != -1 {
		t.Errorf("got %q %d", f, d)
	}
	if f, d := sortOrder("sent_at"); f != "sent_at" || d != 1 {
		t.Errorf("got %q %d", f, d)
	}
	if f, _ := sortOrder(""); f != "" {
		t.Errorf("expected no sort field, got %q", f)
	}
}

func TestToQueryTranslatesOr(t *testing.T) {
	q := toQuery(store.Filter{
		"status": "active",
		"$or": []store.Filter{
			{"participant1_id": "u1"},
			{"participant2_id": "u1"},
		},
	})
	or, ok := q["$or"].(bson.A)
	if !ok || len(or) != 2 {
		t.Fatalf("expected $or with 2 clauses, got %#v", q["$or"])
	}
	if q["status"] != "active" {
		t.Errorf("status clause lost: %#v", q)
	}
}
