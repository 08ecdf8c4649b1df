/**
 * Fusion Engine for the recognition service
 *
 * Merges N backend outputs for the same input into one result. Texts are
 * aligned position by position after tokenization; each strategy picks a
 * winning token per position. Ties always break toward the earlier result
 * in the input list, which keeps fusion a pure function of its inputs.
 */

package fusion

import (
	"strings"

	"github.com/docsight/recognition-service/internal/engine"
	"github.com/docsight/recognition-service/internal/logging"
)

// Strategy selects how candidate tokens are merged
type Strategy string

const (
	StrategyConfidenceWeighted  Strategy = "confidence_weighted"
	StrategyMajorityVoting      Strategy = "majority_voting"
	StrategyDictionaryValidated Strategy = "dictionary_validated"
	StrategyBestConfidence      Strategy = "best_confidence"
)

// Vocabulary bonus multipliers for confidence-weighted scoring
const (
	bonusExactMatch     = 1.5
	bonusSubstringMatch = 1.2
	bonusPlausibleWord  = 1.1

	// Internal weighting for dictionary-validated scoring; the final
	// per-position score is divided by this before averaging.
	dictionaryWeight = 2.0
)

// WordSource attributes one winning token to the engine that produced it
type WordSource struct {
	Position int    `json:"position"`
	Word     string `json:"word"`
	Engine   string `json:"engine"`
}

// Result is the merged output of one or more engine results
type Result struct {
	Text             string           `json:"text"`
	Confidence       float64          `json:"confidence"`
	Strategy         Strategy         `json:"strategy"`
	Sources          []*engine.Result `json:"sources"`
	ImprovementScore float64          `json:"improvementScore"`
	WordSources      []WordSource     `json:"wordSources,omitempty"`
	EngineErrors     map[string]string `json:"engineErrors,omitempty"`
}

// Engine merges recognition results using a configured vocabulary
type Engine struct {
	vocab  *Vocabulary
	logger *logging.Logger
}

// NewEngine creates a fusion engine. A nil vocabulary disables dictionary
// bonuses but keeps every strategy functional.
func NewEngine(vocab *Vocabulary) *Engine {
	return &Engine{
		vocab:  vocab,
		logger: logging.NewLogger("FusionEngine"),
	}
}

// Fuse merges the given results with the selected strategy.
// Zero results yield empty text with confidence 0; a single result passes
// through unchanged with an improvement score of 0.
func (f *Engine) Fuse(results []*engine.Result, strategy Strategy) *Result {
	if len(results) == 0 {
		return &Result{
			Text:       "",
			Confidence: 0,
			Strategy:   strategy,
		}
	}

	if len(results) == 1 {
		return f.passThrough(results[0], strategy, results)
	}

	var fused *Result
	switch strategy {
	case StrategyMajorityVoting:
		fused = f.majorityVoting(results)
	case StrategyDictionaryValidated:
		fused = f.dictionaryValidated(results)
	case StrategyBestConfidence:
		fused = f.bestConfidence(results)
	default:
		fused = f.confidenceWeighted(results)
		strategy = StrategyConfidenceWeighted
	}

	fused.Strategy = strategy
	fused.Sources = results
	fused.ImprovementScore = fused.Confidence - maxConfidence(results)

	f.logger.Debug("Fusion complete",
		"strategy", strategy,
		"results", len(results),
		"confidence", fused.Confidence,
		"improvement", fused.ImprovementScore)

	return fused
}

// passThrough returns a single result unchanged
func (f *Engine) passThrough(r *engine.Result, strategy Strategy, sources []*engine.Result) *Result {
	tokens := Tokenize(r.Text)
	wordSources := make([]WordSource, 0, len(tokens))
	for i, tok := range tokens {
		wordSources = append(wordSources, WordSource{Position: i, Word: tok, Engine: r.Engine})
	}

	return &Result{
		Text:             r.Text,
		Confidence:       r.Confidence,
		Strategy:         strategy,
		Sources:          sources,
		ImprovementScore: 0,
		WordSources:      wordSources,
	}
}

// candidate is one token offered at a position by one result
type candidate struct {
	token  string
	engine string
	conf   float64
}

// candidatesAt collects, in input order, the token each result has at
// position i.
func candidatesAt(results []*engine.Result, tokenLists [][]string, i int) []candidate {
	cands := make([]candidate, 0, len(results))
	for idx, tokens := range tokenLists {
		if i < len(tokens) {
			cands = append(cands, candidate{
				token:  tokens[i],
				engine: results[idx].Engine,
				conf:   results[idx].Confidence,
			})
		}
	}
	return cands
}

func tokenizeAll(results []*engine.Result) ([][]string, int) {
	lists := make([][]string, len(results))
	maxLen := 0
	for i, r := range results {
		lists[i] = Tokenize(r.Text)
		if len(lists[i]) > maxLen {
			maxLen = len(lists[i])
		}
	}
	return lists, maxLen
}

// vocabularyBonus scores how much a token resembles expected content
func (f *Engine) vocabularyBonus(token string) float64 {
	switch {
	case f.vocab.Contains(token):
		return bonusExactMatch
	case f.vocab.SubstringMatch(token):
		return bonusSubstringMatch
	case looksLikeWord(token):
		return bonusPlausibleWord
	default:
		return 1.0
	}
}

// confidenceWeighted picks the highest confidence x vocabulary-bonus
// candidate per position. Ties keep the earliest candidate.
func (f *Engine) confidenceWeighted(results []*engine.Result) *Result {
	tokenLists, maxLen := tokenizeAll(results)

	winners := make([]string, 0, maxLen)
	wordSources := make([]WordSource, 0, maxLen)
	var scoreSum float64

	for i := 0; i < maxLen; i++ {
		cands := candidatesAt(results, tokenLists, i)
		if len(cands) == 0 {
			continue
		}

		best := cands[0]
		bestScore := best.conf * f.vocabularyBonus(best.token)
		for _, c := range cands[1:] {
			score := c.conf * f.vocabularyBonus(c.token)
			if score > bestScore {
				best = c
				bestScore = score
			}
		}

		winners = append(winners, best.token)
		wordSources = append(wordSources, WordSource{Position: i, Word: best.token, Engine: best.engine})
		scoreSum += bestScore
	}

	return &Result{
		Text:        strings.Join(winners, " "),
		Confidence:  clamp01(mean(scoreSum, len(winners))),
		WordSources: wordSources,
	}
}

// majorityVoting picks the most frequent token per position; on equal
// counts the token seen first in input order wins. Per-position confidence
// is votes over the number of results.
func (f *Engine) majorityVoting(results []*engine.Result) *Result {
	tokenLists, maxLen := tokenizeAll(results)

	winners := make([]string, 0, maxLen)
	wordSources := make([]WordSource, 0, maxLen)
	var scoreSum float64

	for i := 0; i < maxLen; i++ {
		cands := candidatesAt(results, tokenLists, i)
		if len(cands) == 0 {
			continue
		}

		counts := make(map[string]int, len(cands))
		for _, c := range cands {
			counts[c.token]++
		}

		best := cands[0]
		bestVotes := counts[best.token]
		for _, c := range cands[1:] {
			if counts[c.token] > bestVotes {
				best = c
				bestVotes = counts[c.token]
			}
		}

		winners = append(winners, best.token)
		wordSources = append(wordSources, WordSource{Position: i, Word: best.token, Engine: best.engine})
		scoreSum += float64(bestVotes) / float64(len(results))
	}

	return &Result{
		Text:        strings.Join(winners, " "),
		Confidence:  clamp01(mean(scoreSum, len(winners))),
		WordSources: wordSources,
	}
}

// dictionaryValidated scores like confidenceWeighted but any exact
// vocabulary match beats every non-matching candidate regardless of raw
// score. The per-position score is halved before averaging to undo the
// internal in-vocabulary weighting.
func (f *Engine) dictionaryValidated(results []*engine.Result) *Result {
	tokenLists, maxLen := tokenizeAll(results)

	winners := make([]string, 0, maxLen)
	wordSources := make([]WordSource, 0, maxLen)
	var scoreSum float64

	for i := 0; i < maxLen; i++ {
		cands := candidatesAt(results, tokenLists, i)
		if len(cands) == 0 {
			continue
		}

		var best candidate
		var bestScore float64
		bestInVocab := false
		first := true

		for _, c := range cands {
			inVocab := f.vocab.Contains(c.token)
			var score float64
			if inVocab {
				score = c.conf * dictionaryWeight
			} else {
				score = c.conf * f.vocabularyBonus(c.token)
			}

			better := false
			switch {
			case first:
				better = true
			case inVocab && !bestInVocab:
				better = true
			case inVocab == bestInVocab && score > bestScore:
				better = true
			}

			if better {
				best = c
				bestScore = score
				bestInVocab = inVocab
				first = false
			}
		}

		winners = append(winners, best.token)
		wordSources = append(wordSources, WordSource{Position: i, Word: best.token, Engine: best.engine})
		scoreSum += bestScore / dictionaryWeight
	}

	return &Result{
		Text:        strings.Join(winners, " "),
		Confidence:  clamp01(mean(scoreSum, len(winners))),
		WordSources: wordSources,
	}
}

// bestConfidence passes through the single result with the highest overall
// confidence; every token is attributed to that engine.
func (f *Engine) bestConfidence(results []*engine.Result) *Result {
	best := results[0]
	for _, r := range results[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}

	tokens := Tokenize(best.Text)
	wordSources := make([]WordSource, 0, len(tokens))
	for i, tok := range tokens {
		wordSources = append(wordSources, WordSource{Position: i, Word: tok, Engine: best.Engine})
	}

	return &Result{
		Text:        best.Text,
		Confidence:  best.Confidence,
		WordSources: wordSources,
	}
}

func maxConfidence(results []*engine.Result) float64 {
	max := 0.0
	for _, r := range results {
		if r.Confidence > max {
			max = r.Confidence
		}
	}
	return max
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
