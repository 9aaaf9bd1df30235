package address

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"

	"surveybot/pkg/logx"
)

func TestQueryPrefix(t *testing.T) {
	t.Parallel()
	idx := Build([]string{"Hauptstraße 1", "Hauptplatz 2", "Nebengasse 3"})

	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{name: "shared prefix", prefix: "Haupt", want: []string{"Hauptstraße 1", "Hauptplatz 2"}},
		{name: "case insensitive", prefix: "HAUPTP", want: []string{"Hauptplatz 2"}},
		{name: "missing path", prefix: "xyz", want: nil},
		{name: "empty prefix", prefix: "", want: []string{"Hauptstraße 1", "Hauptplatz 2", "Nebengasse 3"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := slices.Collect(idx.Query(tt.prefix))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Query(%q) = %v, want %v", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestEveryPrefixFindsWordOnce(t *testing.T) {
	t.Parallel()
	words := []string{"a", "ab", "abc", "Abbeygasse 4", "Bäckerstraße 2", "Bach 1", "b", "Zaunergasse 10, 1030"}
	reversed := slices.Clone(words)
	slices.Reverse(reversed)
	sorted := slices.Clone(words)
	slices.Sort(sorted)
	interleaved := []string{words[3], words[0], words[6], words[2], words[7], words[1], words[5], words[4]}

	tests := []struct {
		name  string
		order []string
	}{
		{"as listed", words},
		{"reversed", reversed},
		{"sorted", sorted},
		{"interleaved", interleaved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			idx := NewPrefixIndex()
			for _, w := range tt.order {
				idx.Insert(w)
			}
			if idx.Len() != len(words) {
				t.Fatalf("Len = %d, want %d", idx.Len(), len(words))
			}
			for _, w := range words {
				runes := []rune(w)
				for n := 1; n <= len(runes); n++ {
					prefix := string(runes[:n])
					count := 0
					for got := range idx.Query(prefix) {
						if got == w {
							count++
						}
					}
					if count != 1 {
						t.Fatalf("Query(%q) returned %q %d times, want once", prefix, w, count)
					}
				}
			}
		})
	}
}

func TestWordIsItsOwnPrefix(t *testing.T) {
	t.Parallel()
	idx := Build([]string{"ab", "abc"})
	got := slices.Collect(idx.Query("ab"))
	if !reflect.DeepEqual(got, []string{"ab", "abc"}) {
		t.Fatalf("Query = %v", got)
	}
}

func TestFirstSpellingWins(t *testing.T) {
	t.Parallel()
	idx := Build([]string{"Ringstraße", "RINGSTRASSE", "ringstraße"})
	if idx.Len() != 2 {
		t.Fatalf("Len = %d, want 2", idx.Len())
	}
	got := slices.Collect(idx.Query("ringstraß"))
	if !reflect.DeepEqual(got, []string{"Ringstraße"}) {
		t.Fatalf("Query = %v", got)
	}
}

func TestQueryIsRestartable(t *testing.T) {
	t.Parallel()
	idx := Build([]string{"a1", "a2", "a3"})
	seq := idx.Query("a")
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second pass = %v, want %v", second, first)
	}
}

func TestSearchLimitAndStop(t *testing.T) {
	t.Parallel()
	idx := NewPrefixIndex()
	for i := 0; i < 500; i++ {
		idx.Insert(fmt.Sprintf("Gasse %03d", i))
	}
	got := Search(idx.Query("gasse"), MaxResults)
	if len(got) != MaxResults {
		t.Fatalf("len = %d, want %d", len(got), MaxResults)
	}
	if got[0] != "Gasse 000" {
		t.Fatalf("first = %q", got[0])
	}
	if Search(idx.Query("gasse"), 0) != nil {
		t.Fatal("limit 0 should return nil")
	}
}

func TestSearchDedups(t *testing.T) {
	t.Parallel()
	seq := func(yield func(string) bool) {
		for _, w := range []string{"a", "a", "b"} {
			if !yield(w) {
				return
			}
		}
	}
	got := Search(seq, 10)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("Search = %v", got)
	}
}

func TestHolderConcurrentReadsDuringSwap(t *testing.T) {
	t.Parallel()
	h := NewHolder()
	h.Swap(Build([]string{"Alpha 1"}), "test")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				got := h.Suggest("alpha", 10)
				if len(got) != 1 {
					t.Errorf("Suggest len = %d", len(got))
					return
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		h.Swap(Build([]string{fmt.Sprintf("Alpha %d", j)}), "test")
	}
	wg.Wait()
}

func TestParseWFSCSV(t *testing.T) {
	t.Parallel()
	in := "FID,SHAPE,NAME,GEB_BEZIRK,PLZ\n" +
		"a.1,POINT,Stephansplatz 1,01,1010\n" +
		"short\n" +
		"a.2,POINT,\"Graben 5\",01,1010\n"
	got, err := ParseWFSCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseWFSCSV error: %v", err)
	}
	want := []string{"Stephansplatz 1, 1010", "Graben 5, 1010"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
}

func TestWFSSourceLoadsAllDistricts(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := r.URL.Query().Get("cql_filter")
		d := strings.TrimSuffix(strings.TrimPrefix(f, "GEB_BEZIRK='"), "'")
		fmt.Fprintf(w, "FID,SHAPE,NAME,GEB_BEZIRK,PLZ\nx,y,Street %s,%s,1%s0\n", d, d, d)
	}))
	defer srv.Close()

	src := WFSSource{BaseURL: srv.URL, Districts: []int{1, 2, 23}, Client: srv.Client()}
	got, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	want := []string{"Street 01, 1010", "Street 02, 1020", "Street 23, 1230"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load = %v, want %v", got, want)
	}
}

func TestWFSSourceSkipsFailedDistricts(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := r.URL.Query().Get("cql_filter")
		d := strings.TrimSuffix(strings.TrimPrefix(f, "GEB_BEZIRK='"), "'")
		if d == "07" {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, "FID,SHAPE,NAME,GEB_BEZIRK,PLZ\nx,y,Street %s,%s,1%s0\n", d, d, d)
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name      string
		districts []int
		want      []string
		wantErr   bool
	}{
		{"one of three fails", []int{6, 7, 8}, []string{"Street 06, 1060", "Street 08, 1080"}, false},
		{"every district fails", []int{7}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := WFSSource{BaseURL: srv.URL, Districts: tt.districts, Client: srv.Client(), Log: logx.Nop()}
			got, err := src.Load(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Load = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFileSourceAndRefresh(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "addr.txt")
	if err := os.WriteFile(path, []byte("# comment\nMariahilfer Straße 1, 1060\n\nMargaretenstraße 2, 1050\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	svc := NewService(FileSource{Path: path}, nil, logx.Nop(), nil)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	got := svc.Holder().Suggest("mar", 10)
	want := []string{"Mariahilfer Straße 1, 1060", "Margaretenstraße 2, 1050"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Suggest = %v, want %v", got, want)
	}

	// a failed refresh keeps the previous index
	svc.src = FileSource{Path: filepath.Join(t.TempDir(), "missing.txt")}
	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(svc.Holder().Suggest("mar", 10)) != 2 {
		t.Fatal("previous index was not kept")
	}
}
