package ingest

import (
	"testing"

	"github.com/placementbridge/oppengine/internal/model"
)

func TestClassify_Type(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name        string
		title       string
		description string
		want        model.OpportunityType
	}{
		{"インターンシップ", "Software Engineering Internship at Google Kampala", "", model.TypeInternship},
		{"奨学金", "Fully Funded Scholarship for African Students", "", model.TypeScholarship},
		{"求人", "Senior Accountant Vacancy", "", model.TypeJob},
		{"フェローシップ", "Mandela Washington Fellowship 2026", "", model.TypeFellowship},
		{"研修", "Digital Skills Training Workshop", "", model.TypeTraining},
		{"助成金", "Small Business Grant Funding Available", "", model.TypeGrant},
		{"コンテスト", "Essay Competition for Youth", "", model.TypeCompetition},
		{"ボランティア", "Volunteer Opportunity in Community Health", "", model.TypeVolunteer},
		{"カンファレンス", "Annual Climate Summit 2026", "", model.TypeConference},
		{"該当なし", "Weekly Newsletter Digest", "Updates from around the web", model.TypeOther},
		{"説明文からの分類", "Exciting Announcement", "Apply now for this paid internship program", model.TypeInternship},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.title, tt.description)
			if got.Type != tt.want {
				t.Errorf("種別が一致しません: got %q, want %q", got.Type, tt.want)
			}
		})
	}
}

func TestClassify_TitleTakesPrecedenceOverDescription(t *testing.T) {
	c := NewClassifier()

	// タイトルは奨学金、説明文は求人を示す。タイトル側が勝つ。
	got := c.Classify("Scholarship Announcement", "We are hiring a program officer for this job")
	if got.Type != model.TypeScholarship {
		t.Errorf("タイトル優先になっていません: got %q, want %q", got.Type, model.TypeScholarship)
	}
}

func TestClassify_Field(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"IT", "Software Developer Position", "ICT / Technology"},
		{"医療", "Nurse Recruitment at Mulago Hospital", "Health"},
		{"教育", "Teacher Training Program", "Education"},
		{"農業", "Agriculture Extension Officer", "Agriculture"},
		{"金融", "Finance and Accounting Internship", "Finance"},
		{"該当なし", "General Announcement", model.FieldGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.title, "")
			if got.Field != tt.want {
				t.Errorf("分野が一致しません: got %q, want %q", got.Field, tt.want)
			}
		})
	}
}

func TestClassify_Country(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"ウガンダ", "Software Engineering Internship at Google Kampala", "Uganda"},
		{"ケニア", "Marketing Officer - Nairobi", "Kenya"},
		{"リモート", "Remote Customer Support Role", "Remote"},
		{"東アフリカ", "East Africa Regional Coordinator", "East Africa"},
		{"アフリカ全域", "Opportunities for African Youth", "Africa"},
		{"該当なし", "Data Entry Position", model.CountryGlobal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.title, "")
			if got.Country != tt.want {
				t.Errorf("国が一致しません: got %q, want %q", got.Country, tt.want)
			}
		})
	}
}

func TestClassify_EastAfricaBeforeAfrica(t *testing.T) {
	c := NewClassifier()

	// "East Africa" は "Africa" を部分文字列として含むため順序が重要
	got := c.Classify("Program Officer East Africa", "")
	if got.Country != "East Africa" {
		t.Errorf("国が一致しません: got %q, want %q", got.Country, "East Africa")
	}
}

func TestClassify_WordBoundaryMatching(t *testing.T) {
	c := NewClassifier()

	// "available" は "ai" を部分文字列として含むがICT分野に誤検出しない
	got := c.Classify("Available Vacancies This Week", "")
	if got.Field != model.FieldGeneral {
		t.Errorf("単語境界を無視した誤検出: got %q", got.Field)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := NewClassifier()

	title := "Software Engineering Internship at Google Kampala"
	desc := "Join our team in Uganda working on machine learning"

	first := c.Classify(title, desc)
	for i := 0; i < 100; i++ {
		got := c.Classify(title, desc)
		if got != first {
			t.Fatalf("分類結果が安定していません: %v != %v", got, first)
		}
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	c := NewClassifier()

	lower := c.Classify("internship in kampala", "")
	upper := c.Classify("INTERNSHIP IN KAMPALA", "")
	if lower != upper {
		t.Errorf("大文字小文字で結果が変わっています: %v != %v", lower, upper)
	}
	if lower.Type != model.TypeInternship || lower.Country != "Uganda" {
		t.Errorf("分類結果が想定と異なります: %v", lower)
	}
}
