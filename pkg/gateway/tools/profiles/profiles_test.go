package profiles

import (
	"context"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestStaticStore_MissingProfileIsEmpty(t *testing.T) {
	t.Parallel()

	s := NewStaticStore(nil)
	meds, err := s.Medications(context.Background(), "u_unknown")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(meds) != 0 {
		t.Fatalf("meds=%v, want empty", meds)
	}
}

func TestStaticStore_NormalizesMedications(t *testing.T) {
	t.Parallel()

	s := NewStaticStore(map[string][]string{
		"u_1": {"Warfarin", " ", "aspirin", "Warfarin"},
	})
	meds, err := s.Medications(context.Background(), "u_1")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	want := []string{"Warfarin", "aspirin"}
	if !reflect.DeepEqual(meds, want) {
		t.Fatalf("meds=%v, want %v", meds, want)
	}
}

func TestStaticStore_SetMedicationsReplaces(t *testing.T) {
	t.Parallel()

	s := NewStaticStore(map[string][]string{"u_1": {"aspirin"}})
	if err := s.SetMedications(context.Background(), "u_1", []string{"metformin"}); err != nil {
		t.Fatalf("err=%v", err)
	}
	meds, _ := s.Medications(context.Background(), "u_1")
	if !reflect.DeepEqual(meds, []string{"metformin"}) {
		t.Fatalf("meds=%v", meds)
	}
}

type fakeRow struct {
	raw []byte
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	p, ok := dest[0].(*[]byte)
	if !ok {
		return pgx.ErrNoRows
	}
	*p = r.raw
	return nil
}

type fakeDB struct {
	row      fakeRow
	execSQL  string
	execArgs []any
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execSQL = sql
	db.execArgs = args
	return pgconn.CommandTag{}, nil
}

func (db *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return db.row
}

func TestPGStore_MedicationsDecodesJSON(t *testing.T) {
	t.Parallel()

	s := NewPGStoreWithDB(&fakeDB{row: fakeRow{raw: []byte(`["warfarin","aspirin"]`)}})
	meds, err := s.Medications(context.Background(), "u_1")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	want := []string{"aspirin", "warfarin"}
	if !reflect.DeepEqual(meds, want) {
		t.Fatalf("meds=%v, want %v", meds, want)
	}
}

func TestPGStore_MissingRowIsEmpty(t *testing.T) {
	t.Parallel()

	s := NewPGStoreWithDB(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}})
	meds, err := s.Medications(context.Background(), "u_missing")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(meds) != 0 {
		t.Fatalf("meds=%v, want empty", meds)
	}
}

func TestPGStore_SetMedicationsEncodesJSON(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	s := NewPGStoreWithDB(db)
	if err := s.SetMedications(context.Background(), " u_1 ", []string{"warfarin", "warfarin"}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(db.execArgs) != 2 {
		t.Fatalf("args=%v", db.execArgs)
	}
	if got := db.execArgs[0]; got != "u_1" {
		t.Fatalf("user_id=%v", got)
	}
	if got := db.execArgs[1]; got != `["warfarin"]` {
		t.Fatalf("medications=%v", got)
	}
}
