package reconcile

import (
	"fmt"
	"testing"

	"stevedore/internal/models"
)

func itemWithViews(id string, views int64) models.ExternalItem {
	return models.ExternalItem{
		ExternalID: id,
		Metrics:    models.EngagementMetrics{Views: views},
	}
}

func TestClampSyncLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultSyncLimit},
		{-5, DefaultSyncLimit},
		{1, MinSyncLimit},
		{10, 10},
		{50, 50},
		{200, 200},
		{500, MaxSyncLimit},
	}

	for _, tt := range tests {
		if got := ClampSyncLimit(tt.in); got != tt.want {
			t.Errorf("ClampSyncLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSelectTopTruncatesToLimit(t *testing.T) {
	items := make([]models.ExternalItem, 150)
	for i := range items {
		items[i] = itemWithViews(fmt.Sprintf("ext-%d", i), int64(i))
	}

	selected := SelectTop(items, 50)
	if len(selected) != 50 {
		t.Fatalf("selected %d items, want 50", len(selected))
	}

	// Highest view counts first
	if selected[0].ExternalID != "ext-149" {
		t.Errorf("top item = %s, want ext-149", selected[0].ExternalID)
	}
	if selected[49].ExternalID != "ext-100" {
		t.Errorf("last selected = %s, want ext-100", selected[49].ExternalID)
	}
}

func TestSelectTopOrdersDescending(t *testing.T) {
	items := []models.ExternalItem{
		itemWithViews("low", 10),
		itemWithViews("high", 1000),
		itemWithViews("mid", 500),
	}

	selected := SelectTop(items, 10)
	if len(selected) != 3 {
		t.Fatalf("selected %d items, want 3", len(selected))
	}
	want := []string{"high", "mid", "low"}
	for i, w := range want {
		if selected[i].ExternalID != w {
			t.Errorf("position %d = %s, want %s", i, selected[i].ExternalID, w)
		}
	}
}

func TestSelectTopTiesKeepProviderOrder(t *testing.T) {
	items := []models.ExternalItem{
		itemWithViews("first", 100),
		itemWithViews("second", 100),
		itemWithViews("third", 100),
	}

	selected := SelectTop(items, 2)
	if selected[0].ExternalID != "first" || selected[1].ExternalID != "second" {
		t.Errorf("ties reordered: got %s, %s", selected[0].ExternalID, selected[1].ExternalID)
	}
}

func TestSelectTopDoesNotMutateInput(t *testing.T) {
	items := []models.ExternalItem{
		itemWithViews("a", 1),
		itemWithViews("b", 2),
	}

	SelectTop(items, 1)
	if items[0].ExternalID != "a" || items[1].ExternalID != "b" {
		t.Error("input slice was reordered")
	}
}
