package retrieval

import (
	"context"
	"testing"
)

type scriptedChat struct {
	responses []string
	calls     []string
	err       error
}

func (s *scriptedChat) Chat(ctx context.Context, prompt string) (string, error) {
	s.calls = append(s.calls, prompt)
	if s.err != nil {
		return "", s.err
	}
	idx := len(s.calls) - 1
	if idx >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	return s.responses[idx], nil
}

func TestExtractQueriesBlockTolerant(t *testing.T) {
	out := "noise before\n<queries><query><question>x</question></query></queries>\ntrailing"
	block, err := extractQueriesBlock(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "<queries><query><question>x</question></query></queries>"
	if block != want {
		t.Fatalf("got %q want %q", block, want)
	}
}

func TestExtractQueriesBlockMissingTag(t *testing.T) {
	if _, err := extractQueriesBlock("no tags here"); err == nil {
		t.Fatal("expected error for missing <queries> tag")
	}
}

func TestEscapeXMLOrder(t *testing.T) {
	got := escapeXML(`<a & "b" 'c'>`)
	want := "&lt;a &amp; &quot;b&quot; &apos;c&apos;&gt;"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestIsValidSubQuery(t *testing.T) {
	if isValidSubQuery("tiny") {
		t.Fatal("4-char query should be invalid (min 5)")
	}
	if !isValidSubQuery("valid question") {
		t.Fatal("expected a normal-length question to be valid")
	}
}

func TestDecomposeEmptyRootIsFatal(t *testing.T) {
	chat := &scriptedChat{responses: []string{"no xml here at all"}}
	d := NewDecomposer(chat, DefaultConfig().Decomposition)

	_, err := d.Decompose(context.Background(), "what is love")
	if err == nil {
		t.Fatal("expected an error")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindDecompositionEmpty {
		t.Fatalf("expected KindDecompositionEmpty, got %v (ok=%v)", kind, ok)
	}
}

func TestDecomposeLimitsChildrenAndLeaves(t *testing.T) {
	// Scenario 5 from spec §8: 7 sub-questions all need_expand, max_children=4.
	sevenSubs := `<queries>
		<query><question>sub question one</question><need_expand>true</need_expand></query>
		<query><question>sub question two</question><need_expand>true</need_expand></query>
		<query><question>sub question three</question><need_expand>true</need_expand></query>
		<query><question>sub question four</question><need_expand>true</need_expand></query>
		<query><question>sub question five</question><need_expand>true</need_expand></query>
		<query><question>sub question six</question><need_expand>true</need_expand></query>
		<query><question>sub question seven</question><need_expand>true</need_expand></query>
	</queries>`
	leafSubs := `<queries>
		<query><question>terminal leaf question</question><need_expand>false</need_expand></query>
	</queries>`

	chat := &scriptedChat{responses: []string{sevenSubs, leafSubs, leafSubs, leafSubs, leafSubs}}
	cfg := DecompositionConfig{MaxLevel: 2, MaxTotalLeaves: 12, MaxChildren: 4, Strategy: defaultDecomposeStrategy}
	d := NewDecomposer(chat, cfg)

	tree, err := d.Decompose(context.Background(), "broad question")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rootChildren int
	for _, n := range tree.Nodes {
		if len(n.Children) > 0 {
			rootChildren++
		}
	}
	if rootChildren != 4 {
		t.Fatalf("expected 4 first-level nodes to expand (max_children), got %d", rootChildren)
	}
	if tree.LeafCount() > 12 {
		t.Fatalf("leaf count must be capped at max_total_leaves=12, got %d", tree.LeafCount())
	}
}
