// Package ingest はフィード項目の取り込みパイプラインを提供する。
// 正規化 → 分類 → 重複排除 → 一括保存のフローを統括する。
package ingest

import (
	"strings"
	"unicode"

	"github.com/placementbridge/oppengine/internal/model"
)

// typeKeywordEntry は募集種別とそのキーワード群。
// スライスの順序が優先順位を決め、先にマッチした種別が採用される。
type typeKeywordEntry struct {
	typ      model.OpportunityType
	keywords []string
}

// typeKeywords は種別判定のキーワードテーブル（優先順）。
// 種別キーワードは部分一致で判定する。
var typeKeywords = []typeKeywordEntry{
	{model.TypeJob, []string{
		"job", "jobs", "hiring", "vacancy", "vacancies", "career", "careers",
		"employment", "position", "positions", "recruit", "recruiting",
	}},
	{model.TypeInternship, []string{
		"intern", "internship", "internships", "trainee", "traineeship",
		"practicum", "work experience", "industrial attachment",
	}},
	{model.TypeScholarship, []string{
		"scholarship", "scholarships", "bursary", "bursaries", "award", "awards",
		"tuition", "study abroad", "fully funded", "partial funding",
	}},
	{model.TypeFellowship, []string{
		"fellowship", "fellowships", "fellow", "residency", "exchange program",
		"visiting researcher",
	}},
	{model.TypeTraining, []string{
		"training", "workshop", "bootcamp", "course", "certification",
		"webinar", "seminar", "capacity building", "skills development",
	}},
	{model.TypeGrant, []string{
		"grant", "grants", "funding", "seed fund", "seed funding",
		"innovation fund", "research grant", "project funding", "financial support",
	}},
	{model.TypeCompetition, []string{
		"competition", "challenge", "contest", "hackathon", "pitch",
		"award competition", "startup competition",
	}},
	{model.TypeVolunteer, []string{
		"volunteer", "volunteering", "volunteer opportunity", "community service", "unpaid",
	}},
	{model.TypeConference, []string{
		"conference", "summit", "forum", "congress", "symposium", "convention",
	}},
}

// fieldKeywordEntry は分野とそのキーワード群（優先順）。
type fieldKeywordEntry struct {
	field    string
	keywords []string
}

// fieldKeywords は分野判定のキーワードテーブル（優先順）。
// 分野キーワードは誤検出を避けるため単語境界付きで判定する。
var fieldKeywords = []fieldKeywordEntry{
	{"ICT / Technology", []string{
		"tech", "technology", "software", "developer", "programming", "data",
		"ai", "machine learning", "cyber", "ict", "computer", "web", "mobile",
		"app", "digital", "cloud", "devops",
	}},
	{"Engineering", []string{
		"engineer", "engineering", "mechanical", "electrical", "civil",
		"structural", "construction", "manufacturing",
	}},
	{"Business", []string{
		"business", "management", "marketing", "sales", "entrepreneur",
		"startup", "commerce", "mba", "administration", "operations",
	}},
	{"Health", []string{
		"health", "medical", "clinical", "nursing", "pharmacy", "doctor",
		"hospital", "healthcare", "medicine", "public health", "epidemiology",
	}},
	{"Agriculture", []string{
		"agriculture", "agri", "farming", "agribusiness", "food security",
		"crop", "livestock", "fisheries",
	}},
	{"Education", []string{
		"education", "teaching", "teacher", "school", "university", "learning",
		"academic", "lecturer", "professor", "curriculum",
	}},
	{"Development / NGO", []string{
		"development", "ngo", "humanitarian", "social impact", "nonprofit",
		"non-profit", "charity", "aid", "relief", "sustainability", "sdg",
	}},
	{"Finance", []string{
		"finance", "banking", "accounting", "audit", "investment", "financial",
		"economist", "economics", "fintech",
	}},
	{"Law", []string{
		"law", "legal", "lawyer", "attorney", "advocate", "barrister",
		"paralegal", "compliance", "regulatory",
	}},
	{"Media / Communications", []string{
		"media", "journalism", "communications", "public relations",
		"broadcasting", "writer", "editor", "content",
	}},
	{"Arts / Creative", []string{
		"art", "arts", "design", "creative", "graphic", "music", "film",
		"photography", "fashion", "animation",
	}},
	{"Science / Research", []string{
		"science", "research", "researcher", "scientist", "laboratory",
		"phd", "postdoc", "biology", "chemistry", "physics",
	}},
	{"Environment", []string{
		"environment", "climate", "conservation", "wildlife", "forestry",
		"renewable", "green",
	}},
	{"Government / Policy", []string{
		"government", "policy", "public sector", "civil service", "governance",
		"diplomat", "foreign affairs",
	}},
}

// countryPatternEntry は国・地域とその検出パターン群（優先順）。
type countryPatternEntry struct {
	country  string
	patterns []string
}

// countryPatterns は国・地域判定のパターンテーブル（優先順）。
// 具体的な国を先に、地域、Remote、Globalを後に並べる。
// "East Africa" は "Africa" より前に置かないと地域判定が吸収される。
var countryPatterns = []countryPatternEntry{
	{"Uganda", []string{"uganda", "kampala", "ugandan"}},
	{"Kenya", []string{"kenya", "nairobi", "kenyan"}},
	{"Tanzania", []string{"tanzania", "dar es salaam", "tanzanian"}},
	{"Rwanda", []string{"rwanda", "kigali", "rwandan"}},
	{"Nigeria", []string{"nigeria", "lagos", "abuja", "nigerian"}},
	{"Ghana", []string{"ghana", "accra", "ghanaian"}},
	{"South Africa", []string{"south africa", "johannesburg", "cape town", "pretoria"}},
	{"Ethiopia", []string{"ethiopia", "addis ababa", "ethiopian"}},
	{"United States", []string{"usa", "united states", "america", "american", "u.s."}},
	{"United Kingdom", []string{"uk", "united kingdom", "britain", "british", "london", "england"}},
	{"Germany", []string{"germany", "german", "berlin", "deutschland"}},
	{"France", []string{"france", "french", "paris"}},
	{"Canada", []string{"canada", "canadian", "toronto", "vancouver"}},
	{"Australia", []string{"australia", "australian", "sydney", "melbourne"}},
	{"India", []string{"india", "indian", "delhi", "mumbai", "bangalore"}},
	{"China", []string{"china", "chinese", "beijing", "shanghai"}},
	{"Japan", []string{"japan", "japanese", "tokyo"}},
	{"East Africa", []string{"east africa", "eastern africa", "eac"}},
	{"Africa", []string{"africa", "african", "sub-saharan"}},
	{"Europe", []string{"europe", "european"}},
	{"Asia", []string{"asia", "asian"}},
	{"Remote", []string{"remote", "work from home", "wfh", "virtual", "online position"}},
	{model.CountryGlobal, []string{"global", "worldwide", "international", "anywhere", "world"}},
}

// Classification は分類結果を表す。
type Classification struct {
	Type    model.OpportunityType
	Field   string
	Country string
}

// Classifier はキーワードテーブルによる決定的な分類器。
// 同一入力に対して常に同一の分類結果を返す。
type Classifier struct{}

// NewClassifier はClassifierを生成する。
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify はタイトルと説明文から種別・分野・国を分類する。
func (c *Classifier) Classify(title, description string) Classification {
	return Classification{
		Type:    classifyType(title, description),
		Field:   classifyField(title, description),
		Country: detectCountry(title, description),
	}
}

// classifyType は種別を判定する。
// タイトルのマッチを優先し、次に説明文を見る。どちらにもマッチしなければother。
func classifyType(title, description string) model.OpportunityType {
	lowerTitle := strings.ToLower(title)
	lowerDesc := strings.ToLower(description)

	for _, entry := range typeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lowerTitle, kw) {
				return entry.typ
			}
		}
	}
	for _, entry := range typeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lowerDesc, kw) {
				return entry.typ
			}
		}
	}
	return model.TypeOther
}

// classifyField は分野を判定する。
// タイトルのマッチを優先し、次に説明文を見る。どちらにもマッチしなければGeneral。
func classifyField(title, description string) string {
	for _, entry := range fieldKeywords {
		for _, kw := range entry.keywords {
			if containsWord(title, kw) {
				return entry.field
			}
		}
	}
	for _, entry := range fieldKeywords {
		for _, kw := range entry.keywords {
			if containsWord(description, kw) {
				return entry.field
			}
		}
	}
	return model.FieldGeneral
}

// detectCountry は国・地域を判定する。マッチしなければGlobal。
func detectCountry(title, description string) string {
	text := title + " " + description

	for _, entry := range countryPatterns {
		for _, pattern := range entry.patterns {
			if containsWord(text, pattern) {
				return entry.country
			}
		}
	}
	return model.CountryGlobal
}

// containsWord はtextにwordが単語境界付きで含まれるかを判定する（大文字小文字は無視）。
// "uk" のような短いパターンが "lukewarm" 等に誤マッチしないようにする。
func containsWord(text, word string) bool {
	lowerText := strings.ToLower(text)
	lowerWord := strings.ToLower(word)

	for start := 0; ; {
		idx := strings.Index(lowerText[start:], lowerWord)
		if idx < 0 {
			return false
		}
		idx += start

		boundaryBefore := idx == 0 || !isWordChar(rune(lowerText[idx-1]))
		endIdx := idx + len(lowerWord)
		boundaryAfter := endIdx >= len(lowerText) || !isWordChar(rune(lowerText[endIdx]))
		if boundaryBefore && boundaryAfter {
			return true
		}
		start = idx + 1
	}
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
