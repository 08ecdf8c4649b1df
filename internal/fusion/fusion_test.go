/**
 * Fusion Engine Tests
 *
 * Validates strategy behavior against known inputs:
 * - Pass-through laws for zero and one result
 * - Determinism and input-order tie-breaking
 * - Vocabulary-driven correction (the misread-first-letter case)
 * - Majority, dictionary and best-confidence strategies
 */

package fusion

import (
	"reflect"
	"testing"

	"github.com/docsight/recognition-service/internal/engine"
)

func res(name, text string, conf float64) *engine.Result {
	return &engine.Result{Engine: name, Text: text, Confidence: conf}
}

func TestFuseEmptyInput(t *testing.T) {
	f := NewEngine(nil)

	fused := f.Fuse(nil, StrategyConfidenceWeighted)
	if fused.Text != "" {
		t.Errorf("expected empty text, got %q", fused.Text)
	}
	if fused.Confidence != 0 {
		t.Errorf("expected zero confidence, got %f", fused.Confidence)
	}
}

func TestFuseSingleResultPassesThrough(t *testing.T) {
	f := NewEngine(nil)
	input := res("tesseract", "Hello World", 0.42)

	for _, strategy := range []Strategy{
		StrategyConfidenceWeighted,
		StrategyMajorityVoting,
		StrategyDictionaryValidated,
		StrategyBestConfidence,
	} {
		fused := f.Fuse([]*engine.Result{input}, strategy)
		if fused.Text != "Hello World" {
			t.Errorf("%s: expected pass-through text, got %q", strategy, fused.Text)
		}
		if fused.Confidence != 0.42 {
			t.Errorf("%s: expected pass-through confidence, got %f", strategy, fused.Confidence)
		}
		if fused.ImprovementScore != 0 {
			t.Errorf("%s: single result must have improvement score 0, got %f", strategy, fused.ImprovementScore)
		}
		if len(fused.WordSources) != 2 {
			t.Errorf("%s: expected 2 word sources, got %d", strategy, len(fused.WordSources))
		}
	}
}

func TestFuseIsDeterministic(t *testing.T) {
	f := NewEngine(NewVocabulary([]string{"invoice", "total"}))
	results := []*engine.Result{
		res("a", "Invoice Total 42", 0.80),
		res("b", "lnvoice Tota1 42", 0.85),
		res("c", "Invoice Total 47", 0.70),
	}

	first := f.Fuse(results, StrategyConfidenceWeighted)
	for i := 0; i < 10; i++ {
		again := f.Fuse(results, StrategyConfidenceWeighted)
		if again.Text != first.Text || again.Confidence != first.Confidence {
			t.Fatalf("fusion is not deterministic: %q/%f vs %q/%f",
				first.Text, first.Confidence, again.Text, again.Confidence)
		}
		if !reflect.DeepEqual(again.WordSources, first.WordSources) {
			t.Fatalf("word sources differ across runs")
		}
	}
}

// A lower-confidence engine that read "Invoice" correctly must beat a
// higher-confidence engine that produced the misread "lnvoice" once the
// vocabulary bonus is applied (0.90*1.5 > 0.95*1.1).
func TestConfidenceWeightedVocabularyCorrection(t *testing.T) {
	f := NewEngine(NewVocabulary([]string{"invoice"}))
	results := []*engine.Result{
		res("tesseract", "Invoice #12345", 0.90),
		res("vision", "lnvoice #12345", 0.95),
	}

	fused := f.Fuse(results, StrategyConfidenceWeighted)

	if fused.Text != "Invoice 12345" {
		t.Fatalf("expected corrected text %q, got %q", "Invoice 12345", fused.Text)
	}
	if fused.WordSources[0].Engine != "tesseract" {
		t.Errorf("winning word attributed to %q, want tesseract", fused.WordSources[0].Engine)
	}
	if fused.WordSources[1].Engine != "vision" {
		t.Errorf("second word attributed to %q, want vision", fused.WordSources[1].Engine)
	}
	if fused.Confidence < 0 || fused.Confidence > 1 {
		t.Errorf("confidence must stay in [0,1], got %f", fused.Confidence)
	}
}

func TestConfidenceWeightedTieKeepsEarliestResult(t *testing.T) {
	f := NewEngine(nil)
	results := []*engine.Result{
		res("first", "alpha", 0.80),
		res("second", "bravo", 0.80),
	}

	fused := f.Fuse(results, StrategyConfidenceWeighted)
	if fused.Text != "alpha" {
		t.Errorf("tie must keep the earlier input result, got %q", fused.Text)
	}
	if fused.WordSources[0].Engine != "first" {
		t.Errorf("tie winner attributed to %q, want first", fused.WordSources[0].Engine)
	}
}

func TestFuseUnknownStrategyDefaultsToConfidenceWeighted(t *testing.T) {
	f := NewEngine(nil)
	results := []*engine.Result{
		res("a", "one", 0.5),
		res("b", "two", 0.6),
	}

	fused := f.Fuse(results, Strategy("bogus"))
	if fused.Strategy != StrategyConfidenceWeighted {
		t.Errorf("expected default strategy %q, got %q", StrategyConfidenceWeighted, fused.Strategy)
	}
}

func TestMajorityVoting(t *testing.T) {
	f := NewEngine(nil)
	results := []*engine.Result{
		res("a", "cat sat mat", 0.50),
		res("b", "cat sal mat", 0.99),
		res("c", "cat sat hat", 0.60),
	}

	fused := f.Fuse(results, StrategyMajorityVoting)
	if fused.Text != "cat sat mat" {
		t.Errorf("expected majority text %q, got %q", "cat sat mat", fused.Text)
	}

	// 3/3 + 2/3 + 2/3 votes over three positions
	want := (1.0 + 2.0/3.0 + 2.0/3.0) / 3.0
	if diff := fused.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected confidence %f, got %f", want, fused.Confidence)
	}
}

func TestMajorityVotingTieKeepsFirstSeen(t *testing.T) {
	f := NewEngine(nil)
	results := []*engine.Result{
		res("a", "left", 0.10),
		res("b", "right", 0.99),
	}

	fused := f.Fuse(results, StrategyMajorityVoting)
	if fused.Text != "left" {
		t.Errorf("vote tie must keep the first-seen token, got %q", fused.Text)
	}
}

func TestDictionaryValidatedPrefersVocabularyWord(t *testing.T) {
	f := NewEngine(NewVocabulary([]string{"receipt"}))
	results := []*engine.Result{
		res("a", "recelpt", 0.99),
		res("b", "receipt", 0.30),
	}

	fused := f.Fuse(results, StrategyDictionaryValidated)
	if fused.Text != "receipt" {
		t.Errorf("dictionary match must beat higher raw confidence, got %q", fused.Text)
	}
	if fused.WordSources[0].Engine != "b" {
		t.Errorf("winner attributed to %q, want b", fused.WordSources[0].Engine)
	}
	if fused.Confidence < 0 || fused.Confidence > 1 {
		t.Errorf("confidence must stay in [0,1], got %f", fused.Confidence)
	}
}

func TestBestConfidencePassesThroughHighest(t *testing.T) {
	f := NewEngine(nil)
	results := []*engine.Result{
		res("a", "first text", 0.70),
		res("b", "second text", 0.90),
		res("c", "third text", 0.80),
	}

	fused := f.Fuse(results, StrategyBestConfidence)
	if fused.Text != "second text" {
		t.Errorf("expected highest-confidence text, got %q", fused.Text)
	}
	if fused.Confidence != 0.90 {
		t.Errorf("expected confidence 0.90, got %f", fused.Confidence)
	}
	for _, ws := range fused.WordSources {
		if ws.Engine != "b" {
			t.Errorf("word %q attributed to %q, want b", ws.Word, ws.Engine)
		}
	}
}

func TestImprovementScore(t *testing.T) {
	f := NewEngine(nil)
	results := []*engine.Result{
		res("a", "same text", 0.60),
		res("b", "same text", 0.80),
	}

	fused := f.Fuse(results, StrategyMajorityVoting)

	// Both agree everywhere, so majority confidence is 1.0; the best
	// individual engine was 0.80.
	want := 1.0 - 0.80
	if diff := fused.ImprovementScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected improvement %f, got %f", want, fused.ImprovementScore)
	}
}

func TestFuseResultsOfDifferentLengths(t *testing.T) {
	f := NewEngine(nil)
	results := []*engine.Result{
		res("a", "one two", 0.50),
		res("b", "one two three", 0.60),
	}

	fused := f.Fuse(results, StrategyMajorityVoting)
	if fused.Text != "one two three" {
		t.Errorf("trailing tokens must survive fusion, got %q", fused.Text)
	}
}

func TestTokenize(t *testing.T) {
	testCases := []struct {
		name string
		text string
		want []string
	}{
		{"simple", "hello world", []string{"hello", "world"}},
		{"punctuation", "Invoice #12345: total!", []string{"Invoice", "12345", "total"}},
		{"digits attached", "A1 B-2", []string{"A1", "B", "2"}},
		{"empty", "", nil},
		{"whitespace only", "   \t\n", nil},
		{"arabic", "فاتورة ١٢٣", []string{"فاتورة", "١٢٣"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Tokenize(tc.text)
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestLooksLikeWord(t *testing.T) {
	testCases := []struct {
		token string
		want  bool
	}{
		{"hello", true},
		{"a", false},
		{"ab", true},
		{"a1", false},    // 50% letters
		{"abcd1", true},  // 80% letters
		{"12345", false},
		{"", false},
	}

	for _, tc := range testCases {
		if got := looksLikeWord(tc.token); got != tc.want {
			t.Errorf("looksLikeWord(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}

func TestVocabularyFolding(t *testing.T) {
	v := NewVocabulary([]string{"Café", "RÉSUMÉ", "invoice"})

	testCases := []struct {
		token string
		want  bool
	}{
		{"cafe", true},
		{"CAFE", true},
		{"café", true},
		{"resume", true},
		{"Résumé", true},
		{"Invoice", true},
		{"voucher", false},
		{"", false},
	}

	for _, tc := range testCases {
		if got := v.Contains(tc.token); got != tc.want {
			t.Errorf("Contains(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}

func TestVocabularySubstringMatch(t *testing.T) {
	v := NewVocabulary([]string{"invoice"})

	testCases := []struct {
		token string
		want  bool
	}{
		{"invoices", true}, // token contains entry
		{"invoi", true},    // entry contains token
		{"i", false},       // too short
		{"total", false},
	}

	for _, tc := range testCases {
		if got := v.SubstringMatch(tc.token); got != tc.want {
			t.Errorf("SubstringMatch(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}

func TestNilVocabularyIsSafe(t *testing.T) {
	var v *Vocabulary
	if v.Contains("anything") {
		t.Error("nil vocabulary must not contain anything")
	}
	if v.SubstringMatch("anything") {
		t.Error("nil vocabulary must not substring-match anything")
	}
	if v.Size() != 0 {
		t.Error("nil vocabulary must have size 0")
	}
}
