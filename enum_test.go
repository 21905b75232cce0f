package revdb

import (
	"fmt"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func drain(t testing.TB, e *DocEnumerator) []*DocumentInfo {
	t.Helper()
	var out []*DocumentInfo
	for e.Next() {
		out = append(out, e.Info())
	}
	require.NoError(t, e.Err())
	return out
}

func docIDs(infos []*DocumentInfo) []string {
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.DocID)
	}
	return ids
}

func TestAllDocs(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opt Options) {
		db := setupWith(t, opt)
		for i := 100; i >= 1; i-- {
			put(t, db, fmt.Sprintf("doc-%03d", i), "", fmt.Sprintf(`{"i":%d}`, i))
		}
		r := put(t, db, "zzz", "", `{}`)
		del(t, db, "zzz", r.RevID)

		e, err := db.AllDocs(DefaultEnumeratorFlags)
		require.NoError(t, err)
		var ids []string
		for e.Next() {
			ids = append(ids, e.Info().DocID)
			rev := e.Revision()
			require.True(t, rev.IsBodyLoaded())
			require.Equal(t, fmt.Sprintf(`{"i":%d}`, len(ids)), string(rev.Body))
		}
		require.NoError(t, e.Err())
		require.Len(t, ids, 100)
		require.True(t, sort.StringsAreSorted(ids))
		require.Equal(t, "doc-001", ids[0])

		e, err = db.AllDocs(IncludeDeleted)
		require.NoError(t, err)
		infos := drain(t, e)
		require.Len(t, infos, 101)
		last := infos[100]
		require.Equal(t, "zzz", last.DocID)
		require.True(t, last.IsDeleted())
	})
}

func TestAllDocsWithoutBodies(t *testing.T) {
	db := setup(t)
	put(t, db, "a", "", `{"x":1}`)
	e, err := db.AllDocs(0)
	require.NoError(t, err)
	require.True(t, e.Next())
	require.False(t, e.Revision().IsBodyLoaded())
	require.Equal(t, 7, e.Revision().BodySize)
	require.False(t, e.Next())
	require.Nil(t, e.Info())
}

func TestEnumeratorSnapshot(t *testing.T) {
	db := setup(t)
	put(t, db, "a", "", `{}`)
	put(t, db, "b", "", `{}`)

	e, err := db.AllDocs(0)
	require.NoError(t, err)
	require.True(t, e.Next())
	put(t, db, "c", "", `{}`)
	require.True(t, e.Next())
	require.Equal(t, "b", e.Info().DocID)
	require.False(t, e.Next())
	require.NoError(t, e.Err())
}

func TestEnumeratorCloseEarly(t *testing.T) {
	db := setup(t)
	put(t, db, "a", "", `{}`)
	put(t, db, "b", "", `{}`)

	e, err := db.AllDocs(0)
	require.NoError(t, err)
	require.True(t, e.Next())
	require.Equal(t, int64(1), db.ReaderCount.Load())
	e.Close()
	e.Close()
	require.Equal(t, int64(0), db.ReaderCount.Load())
	require.False(t, e.Next())
	require.NoError(t, e.Err())
}

func TestChanges(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opt Options) {
		db := setupWith(t, opt)
		ra := put(t, db, "a", "", `{}`)
		put(t, db, "b", "", `{}`)
		put(t, db, "c", "", `{}`)
		put(t, db, "a", ra.RevID, `{"v":2}`)
		rc, err := db.GetInfo("c")
		require.NoError(t, err)
		del(t, db, "c", rc.RevID)

		e, err := db.Changes(0, DefaultEnumeratorFlags)
		require.NoError(t, err)
		infos := drain(t, e)
		require.Equal(t, []string{"b", "a"}, docIDs(infos))
		require.Equal(t, uint64(2), infos[0].Sequence)
		require.Equal(t, uint64(4), infos[1].Sequence)

		e, err = db.Changes(0, IncludeDeleted)
		require.NoError(t, err)
		require.Equal(t, []string{"b", "a", "c"}, docIDs(drain(t, e)))

		e, err = db.Changes(2, IncludeDeleted)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "c"}, docIDs(drain(t, e)))

		e, err = db.Changes(5, IncludeDeleted)
		require.NoError(t, err)
		require.Empty(t, drain(t, e))

		e, err = db.Changes(^uint64(0), IncludeDeleted)
		require.NoError(t, err)
		require.Empty(t, drain(t, e))
	})
}

func TestChangesAfterPurge(t *testing.T) {
	db := setup(t)
	put(t, db, "a", "", `{}`)
	put(t, db, "b", "", `{}`)
	require.NoError(t, db.Write(func(tx *Tx) error { return tx.Purge("a") }))

	e, err := db.Changes(0, IncludeDeleted)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, docIDs(drain(t, e)))
}

// TestEnumerationProperties drives random puts, deletes and purges against a
// model and checks AllDocs and Changes against it.
func TestEnumerationProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		db, err := Open("", Options{Engine: EngineMemory})
		if err != nil {
			rt.Fatal(err)
		}
		defer db.Close()

		type modelDoc struct {
			rev     RevID
			seq     uint64
			deleted bool
		}
		model := map[string]*modelDoc{}
		var seq uint64

		ids := rapid.SampledFrom([]string{"a", "b", "c", "d", "e", "f", "g"})
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			id := ids.Draw(rt, "id")
			m := model[id]
			op := rapid.IntRange(0, 2).Draw(rt, "op")
			err := db.Write(func(tx *Tx) error {
				switch {
				case op == 2 && m != nil:
					delete(model, id)
					return tx.Purge(id)
				case op == 1 && m != nil && !m.deleted:
					rev, err := tx.Put(id, m.rev, nil, RevDeleted)
					if err != nil {
						return err
					}
					seq++
					m.rev, m.seq, m.deleted = rev.RevID, seq, true
				default:
					var parent RevID
					if m != nil && !m.deleted {
						parent = m.rev
					}
					rev, err := tx.Put(id, parent, []byte(fmt.Sprintf(`{"step":%d}`, i)), 0)
					if err != nil {
						return err
					}
					seq++
					model[id] = &modelDoc{rev: rev.RevID, seq: seq}
				}
				return nil
			})
			if err != nil {
				rt.Fatalf("step %d: %v", i, err)
			}
		}

		var live, all []string
		for id, m := range model {
			all = append(all, id)
			if !m.deleted {
				live = append(live, id)
			}
		}
		slices.Sort(live)
		slices.Sort(all)

		e, err := db.AllDocs(0)
		if err != nil {
			rt.Fatal(err)
		}
		if got := docIDs(drainRapid(rt, e)); !slices.Equal(got, live) {
			rt.Fatalf("AllDocs = %v, wanted %v", got, live)
		}
		e, err = db.AllDocs(IncludeDeleted)
		if err != nil {
			rt.Fatal(err)
		}
		if got := docIDs(drainRapid(rt, e)); !slices.Equal(got, all) {
			rt.Fatalf("AllDocs(IncludeDeleted) = %v, wanted %v", got, all)
		}

		since := rapid.Uint64Range(0, seq+1).Draw(rt, "since")
		var want []string
		for _, id := range all {
			if model[id].seq > since {
				want = append(want, id)
			}
		}
		slices.SortFunc(want, func(a, b string) int {
			return int(model[a].seq) - int(model[b].seq)
		})
		e, err = db.Changes(since, IncludeDeleted)
		if err != nil {
			rt.Fatal(err)
		}
		infos := drainRapid(rt, e)
		if got := docIDs(infos); !slices.Equal(got, want) {
			rt.Fatalf("Changes(%d) = %v, wanted %v", since, got, want)
		}
		for _, info := range infos {
			if info.Sequence != model[info.DocID].seq || info.RevID != model[info.DocID].rev {
				rt.Fatalf("%s: seq %d rev %s, wanted %d %s", info.DocID, info.Sequence, info.RevID, model[info.DocID].seq, model[info.DocID].rev)
			}
		}

		n, err := db.DocumentCount()
		if err != nil || n != uint64(len(live)) {
			rt.Fatalf("DocumentCount = %d, %v; wanted %d", n, err, len(live))
		}
	})
}

func drainRapid(rt *rapid.T, e *DocEnumerator) []*DocumentInfo {
	var out []*DocumentInfo
	for e.Next() {
		out = append(out, e.Info())
	}
	if err := e.Err(); err != nil {
		rt.Fatal(err)
	}
	return out
}

func TestAllDocsFollowsCreationOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		db, err := Open("", Options{Engine: EngineMemory})
		if err != nil {
			rt.Fatal(err)
		}
		defer db.Close()

		n := rapid.IntRange(0, 60).Draw(rt, "n")
		deleted := map[string]bool{}
		err = db.Write(func(tx *Tx) error {
			for i := 1; i <= n; i++ {
				id := fmt.Sprintf("doc-%04d", i)
				rev, err := tx.Put(id, "", []byte(`{}`), 0)
				if err != nil {
					return err
				}
				if rapid.Bool().Draw(rt, "delete") {
					if _, err := tx.Put(id, rev.RevID, nil, RevDeleted); err != nil {
						return err
					}
					deleted[id] = true
				}
			}
			return nil
		})
		if err != nil {
			rt.Fatal(err)
		}

		for _, flags := range []EnumeratorFlags{0, IncludeDeleted} {
			e, err := db.AllDocs(flags)
			if err != nil {
				rt.Fatal(err)
			}
			infos := drainRapid(rt, e)
			want := n
			if flags == 0 {
				want -= len(deleted)
			}
			if len(infos) != want {
				rt.Fatalf("flags %d: got %d docs, wanted %d", flags, len(infos), want)
			}
			for i := 1; i < len(infos); i++ {
				if infos[i-1].DocID >= infos[i].DocID || infos[i-1].Sequence >= infos[i].Sequence {
					rt.Fatalf("entries %d and %d out of order: %s#%d, %s#%d", i-1, i,
						infos[i-1].DocID, infos[i-1].Sequence, infos[i].DocID, infos[i].Sequence)
				}
			}
		}

		last, err := db.LastSequence()
		if err != nil {
			rt.Fatal(err)
		}
		e, err := db.Changes(last, IncludeDeleted)
		if err != nil {
			rt.Fatal(err)
		}
		if got := drainRapid(rt, e); len(got) != 0 {
			rt.Fatalf("Changes(lastSequence) returned %d entries", len(got))
		}
	})
}

func TestEnumerationStopsOnCorruptRecord(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opt Options) {
		db := setupWith(t, opt)
		put(t, db, "a", "", `{}`)
		require.NoError(t, db.Write(func(tx *Tx) error {
			return tx.bucket(docsBucket).Put([]byte("b"), []byte{0xc1})
		}))
		put(t, db, "c", "", `{}`)

		e, err := db.AllDocs(DefaultEnumeratorFlags)
		require.NoError(t, err)
		require.True(t, e.Next())
		require.Equal(t, "a", e.Info().DocID)
		require.False(t, e.Next())
		require.Nil(t, e.Info())
		require.ErrorIs(t, e.Err(), &Error{Domain: EngineDomain, Code: int(CorruptRevisionData)})
		require.Equal(t, int64(0), db.ReaderCount.Load())
		require.False(t, e.Next())
		e.Close()
	})
}

func TestChangesStopsOnDanglingSequence(t *testing.T) {
	db := setup(t)
	put(t, db, "a", "", `{}`)
	require.NoError(t, db.Write(func(tx *Tx) error {
		return tx.bucket(seqsBucket).Put(seqKey(99), []byte("ghost"))
	}))

	e, err := db.Changes(0, 0)
	require.NoError(t, err)
	require.True(t, e.Next())
	require.False(t, e.Next())
	require.ErrorIs(t, e.Err(), ErrCorruptData)
	require.Equal(t, int64(0), db.ReaderCount.Load())
}
