package corpus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string {
	return &s
}

func testRecord(id string, partition int) Record {
	return Record{
		ID:           id,
		PartitionKey: partition,
		Category:     "network",
		CategoryPath: []string{"テクノロジ系", "ネットワーク"},
		Text:         strptr("プロンプト " + id),
		Choices:      []string{"ア案", "イ案", "ウ案", "エ案"},
		AnswerIndex:  1,
		Explanation:  "解説",
		SourceURL:    "https://www.ap-siken.com/kakomon/" + id,
	}
}

func TestValidate(t *testing.T) {
	valid := testRecord("p2024-q001", 2024)
	require.NoError(t, Validate(valid))

	unknown := valid
	unknown.AnswerIndex = UnknownAnswer
	require.NoError(t, Validate(unknown))

	outOfRange := valid
	outOfRange.AnswerIndex = len(outOfRange.Choices)
	require.Error(t, Validate(outOfRange))

	noChoices := valid
	noChoices.Choices = nil
	require.Error(t, Validate(noChoices))

	blankChoice := valid
	blankChoice.Choices = []string{"ア案", "   "}
	require.Error(t, Validate(blankChoice))

	noID := valid
	noID.ID = ""
	err := Validate(noID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAddIsIdempotent(t *testing.T) {
	store := NewStore(StoreOptions{})
	rec := testRecord("p2024-q001", 2024)

	require.True(t, store.Add(rec))
	before := store.All()
	require.False(t, store.Add(rec))

	require.Empty(t, cmp.Diff(before, store.All()))
}

func TestContentDedup(t *testing.T) {
	store := NewStore(StoreOptions{})
	a := testRecord("p2024-q001", 2024)
	b := a
	b.ID = "p2024-q777"

	require.True(t, store.Add(a))
	require.False(t, store.Add(b))
	require.Equal(t, 1, store.Len())

	// whitespace differences don't defeat the fingerprint
	c := a
	c.ID = "p2024-q888"
	c.Text = strptr("プロンプト   p2024-q001")
	require.False(t, store.Add(c))
}

func TestPreferNewReplacesInPlace(t *testing.T) {
	store := NewStore(StoreOptions{PreferNew: true})
	first := testRecord("p2024-q001", 2024)
	require.True(t, store.Add(first))
	require.True(t, store.Add(testRecord("p2024-q002", 2024)))

	updated := first
	updated.AnswerIndex = 3
	updated.Text = strptr("改訂版")
	require.True(t, store.Add(updated))

	all := store.All()
	require.Len(t, all, 2)
	require.Equal(t, "p2024-q001", all[0].ID)
	require.Equal(t, 3, all[0].AnswerIndex)
}

func TestDuplicateSkippedWithoutPreferNew(t *testing.T) {
	store := NewStore(StoreOptions{})
	first := testRecord("p2024-q001", 2024)
	require.True(t, store.Add(first))

	updated := first
	updated.AnswerIndex = 3
	require.False(t, store.Add(updated))
	require.Equal(t, 1, store.All()[0].AnswerIndex)
}

func TestInvalidRecordRejected(t *testing.T) {
	store := NewStore(StoreOptions{})
	bad := testRecord("p2024-q001", 2024)
	bad.Choices = nil
	require.False(t, store.Add(bad))
	require.Equal(t, 0, store.Len())
}

func TestLoadExistingPreservesOrder(t *testing.T) {
	store := NewStore(StoreOptions{})
	store.LoadExisting(Corpus{
		Version: 1,
		Questions: []Record{
			testRecord("p2023-q002", 2023),
			testRecord("p2023-q001", 2023),
		},
	})
	require.True(t, store.Add(testRecord("p2024-q001", 2024)))

	var ids []string
	for _, q := range store.All() {
		ids = append(ids, q.ID)
	}
	require.Equal(t, []string{"p2023-q002", "p2023-q001", "p2024-q001"}, ids)
	require.Equal(t, 1, store.Added())
}

func TestLoadedContentGuardsNewAdds(t *testing.T) {
	store := NewStore(StoreOptions{})
	loaded := testRecord("p2023-q001", 2023)
	store.LoadExisting(Corpus{Version: 1, Questions: []Record{loaded}})

	rescraped := loaded
	rescraped.ID = "p2023-q050"
	require.False(t, store.Add(rescraped))
}

func TestNextSequencePerPartition(t *testing.T) {
	store := NewStore(StoreOptions{})
	require.Equal(t, 1, store.NextSequence(2024))
	require.Equal(t, 2, store.NextSequence(2024))
	require.Equal(t, 1, store.NextSequence(2023))
	require.Equal(t, 3, store.NextSequence(2024))

	require.Equal(t, "p2024-q003", SynthesizeID(2024, 3))
}
