package discussion

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func staticID(value string) func() (string, error) {
	return func() (string, error) { return value, nil }
}

func intPtr(v int) *int { return &v }

func TestCreateDiscussion(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d, err := CreateDiscussion(CreateDiscussionInput{
		Title:           "  Ethics of AI  ",
		LessonID:        "lesson-1",
		CreatorUserID:   "user-1",
		MaxParticipants: intPtr(8),
	}, fixedClock(now), staticID("disc-1"))
	if err != nil {
		t.Fatalf("create discussion: %v", err)
	}
	if d.ID != "disc-1" {
		t.Fatalf("expected generated id, got %q", d.ID)
	}
	if d.Title != "Ethics of AI" {
		t.Fatalf("expected trimmed title, got %q", d.Title)
	}
	if !d.IsActive {
		t.Fatal("expected new discussion to be active")
	}
	if !d.CreatedAt.Equal(now) || !d.UpdatedAt.Equal(now) {
		t.Fatalf("expected timestamps %v, got %v / %v", now, d.CreatedAt, d.UpdatedAt)
	}
}

func TestCreateDiscussionValidation(t *testing.T) {
	tests := []struct {
		name  string
		input CreateDiscussionInput
		want  error
	}{
		{name: "empty title", input: CreateDiscussionInput{CreatorUserID: "u"}, want: ErrEmptyTitle},
		{name: "zero capacity", input: CreateDiscussionInput{Title: "t", MaxParticipants: intPtr(0)}, want: ErrInvalidCapacity},
		{name: "negative capacity", input: CreateDiscussionInput{Title: "t", MaxParticipants: intPtr(-3)}, want: ErrInvalidCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateDiscussion(tt.input, nil, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAdmissionError(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name       string
		discussion Discussion
		wantCode   apperrors.Code
	}{
		{name: "active", discussion: Discussion{IsActive: true}, wantCode: ""},
		{name: "active with future expiry", discussion: Discussion{IsActive: true, ExpiresAt: &future}, wantCode: ""},
		{name: "administratively closed", discussion: Discussion{IsActive: false, ClosedAt: &past}, wantCode: apperrors.CodeDiscussionClosed},
		{name: "naturally expired", discussion: Discussion{IsActive: true, ExpiresAt: &past}, wantCode: apperrors.CodeDiscussionExpired},
		{name: "inactive without closure record", discussion: Discussion{IsActive: false}, wantCode: apperrors.CodeDiscussionInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.discussion.AdmissionError(now)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("expected admission allowed, got %v", err)
				}
				return
			}
			if got := apperrors.GetCode(err); got != tt.wantCode {
				t.Fatalf("got code %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestClose(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := Discussion{ID: "disc-1", IsActive: true}

	closed := d.Close(now)
	if closed.IsActive {
		t.Fatal("expected closed discussion to be inactive")
	}
	if closed.ClosedAt == nil || !closed.ClosedAt.Equal(now) {
		t.Fatalf("expected closedAt %v, got %v", now, closed.ClosedAt)
	}

	again := closed.Close(now.Add(time.Hour))
	if !again.ClosedAt.Equal(now) {
		t.Fatal("expected repeated close to keep the original timestamp")
	}
}

func TestSummarizeOmitsOwner(t *testing.T) {
	d := Discussion{ID: "disc-1", Title: "Ethics", CreatorUserID: "user-1", MaxParticipants: intPtr(4)}
	s := d.Summarize(2)
	if s.ID != "disc-1" || s.Title != "Ethics" || s.ActiveCount != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if *s.MaxParticipants != 4 {
		t.Fatalf("expected capacity 4, got %d", *s.MaxParticipants)
	}
}
