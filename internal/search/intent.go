package search

import (
	"strings"
	"unicode"

	"github.com/placementbridge/oppengine/internal/model"
)

// fillerWords は検索意図の抽出後にキーワードから除去する語。
var fillerWords = map[string]struct{}{
	"find": {}, "show": {}, "search": {}, "get": {}, "give": {},
	"looking": {}, "interested": {}, "want": {}, "need": {},
	"me": {}, "my": {}, "i": {}, "am": {}, "is": {}, "are": {},
	"please": {}, "can": {}, "you": {}, "could": {},
	"a": {}, "an": {}, "the": {}, "any": {}, "some": {},
	"for": {}, "in": {}, "at": {}, "on": {}, "to": {}, "of": {}, "with": {}, "about": {},
	"opportunities": {}, "opportunity": {},
}

// intentTypeRules はクエリ中の語から募集種別を判定するルール（優先順）。
type intentTypeRule struct {
	typ   model.OpportunityType
	words []string
}

var intentTypeRules = []intentTypeRule{
	{model.TypeJob, []string{"job", "jobs", "vacancy", "vacancies", "employment", "career", "careers", "position", "positions", "work"}},
	{model.TypeInternship, []string{"internship", "internships", "intern", "interns", "attachment"}},
	{model.TypeScholarship, []string{"scholarship", "scholarships", "bursary", "bursaries"}},
	{model.TypeFellowship, []string{"fellowship", "fellowships"}},
	{model.TypeTraining, []string{"training", "trainings", "workshop", "workshops", "course", "courses", "bootcamp", "bootcamps"}},
	{model.TypeGrant, []string{"grant", "grants", "funding"}},
	{model.TypeCompetition, []string{"competition", "competitions", "challenge", "challenges", "contest", "contests", "hackathon", "hackathons"}},
	{model.TypeVolunteer, []string{"volunteer", "volunteering"}},
	{model.TypeConference, []string{"conference", "conferences", "summit", "summits"}},
}

// intentCountryRules はクエリ中の語から国・地域を判定するルール（優先順）。
// 複数語のパターンを含むため、具体的な地名を先に並べる。
type intentCountryRule struct {
	country  string
	patterns []string
}

var intentCountryRules = []intentCountryRule{
	{"Uganda", []string{"uganda", "kampala"}},
	{"Kenya", []string{"kenya", "nairobi"}},
	{"Tanzania", []string{"tanzania", "dar es salaam"}},
	{"Rwanda", []string{"rwanda", "kigali"}},
	{"Nigeria", []string{"nigeria", "lagos", "abuja"}},
	{"Ghana", []string{"ghana", "accra"}},
	{"South Africa", []string{"south africa"}},
	{"Ethiopia", []string{"ethiopia", "addis ababa"}},
	{"East Africa", []string{"east africa"}},
	{"Africa", []string{"africa", "african"}},
	{"Europe", []string{"europe", "european"}},
	{"Remote", []string{"remote", "work from home"}},
	{model.CountryGlobal, []string{"global", "worldwide", "international", "anywhere"}},
}

// intentFieldRules はクエリ中の分野名を判定するルール（優先順）。
// 分野はラベルに近い語のみ拾い、職種を表す一般語はキーワードとして残す。
type intentFieldRule struct {
	field    string
	patterns []string
}

var intentFieldRules = []intentFieldRule{
	{"ICT / Technology", []string{"tech", "technology", "ict"}},
	{"Engineering", []string{"engineering"}},
	{"Business", []string{"business", "marketing"}},
	{"Health", []string{"health", "healthcare", "medical", "medicine"}},
	{"Agriculture", []string{"agriculture", "farming"}},
	{"Education", []string{"education", "teaching"}},
	{"Development / NGO", []string{"ngo", "humanitarian"}},
	{"Finance", []string{"finance", "banking", "accounting"}},
	{"Law", []string{"law", "legal"}},
	{"Media / Communications", []string{"media", "journalism", "communications"}},
	{"Arts / Creative", []string{"arts", "design", "creative"}},
	{"Science / Research", []string{"science", "research"}},
	{"Environment", []string{"environment", "climate"}},
	{"Government / Policy", []string{"government", "policy"}},
}

// ParseSearchIntent は自然言語クエリから種別・分野・国とキーワード残余を抽出する。
//
// 抽出は決定的で、ルールテーブルの順序が優先順位を決める。
// マッチした語とつなぎの語（find, for, in等）は除去され、
// 残りがそのままキーワード検索の入力になる。
func ParseSearchIntent(query string) model.SearchIntent {
	tokens := splitQueryWords(strings.ToLower(query))
	// 前後にスペースを付けて語境界の判定を単純化する
	normalized := " " + strings.Join(tokens, " ") + " "

	intent := model.SearchIntent{}

	for _, rule := range intentTypeRules {
		if matched, rest := matchPhrase(normalized, rule.words); matched {
			intent.Type = rule.typ
			normalized = rest
			break
		}
	}

	for _, rule := range intentCountryRules {
		if matched, rest := matchPhrase(normalized, rule.patterns); matched {
			intent.Country = rule.country
			normalized = rest
			break
		}
	}

	for _, rule := range intentFieldRules {
		if matched, rest := matchPhrase(normalized, rule.patterns); matched {
			intent.Field = rule.field
			normalized = rest
			break
		}
	}

	var keywords []string
	for _, token := range strings.Fields(normalized) {
		if _, filler := fillerWords[token]; filler {
			continue
		}
		keywords = append(keywords, token)
	}
	intent.Keywords = strings.Join(keywords, " ")

	return intent
}

// matchPhrase はnormalizedに語境界付きでパターンが含まれるかを判定し、
// 最初にマッチしたパターンを除去した文字列を返す。
func matchPhrase(normalized string, patterns []string) (bool, string) {
	for _, p := range patterns {
		padded := " " + p + " "
		if strings.Contains(normalized, padded) {
			return true, strings.Replace(normalized, padded, " ", 1)
		}
	}
	return false, normalized
}

// splitQueryWords はクエリを英数字の連続で分割する。
func splitQueryWords(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
