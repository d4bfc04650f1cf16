package wall

import (
	"net/url"
	"testing"
)

func TestChatVisible(t *testing.T) {
	tests := []struct {
		query        string
		mobile       bool
		hideOnMobile bool
		want         bool
	}{
		{"", false, false, true},
		{"", true, false, true},
		{"", true, true, false},
		{"chat", true, true, true},
		{"nochat", false, false, false},
		{"nochat&chat", true, true, false},
		{"", false, true, true},
	}
	for _, tt := range tests {
		q, err := url.ParseQuery(tt.query)
		if err != nil {
			t.Fatal(err)
		}
		if got := ChatVisible(q, tt.mobile, tt.hideOnMobile); got != tt.want {
			t.Errorf("ChatVisible(%q, mobile=%v, hide=%v) = %v, want %v", tt.query, tt.mobile, tt.hideOnMobile, got, tt.want)
		}
	}
}
