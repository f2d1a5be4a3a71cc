package deeplink

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/zyeachat/pkg/model"
)

func TestParse(t *testing.T) {
	type tcase struct {
		raw  string
		want Link
	}

	tcases := map[string]tcase{
		"chat only": {
			raw: "zyeachat://chat?partnerId=42&userName=Lan%20Anh&avatar=https%3A%2F%2Fcdn.example%2Fa.png",
			want: Link{Target: &model.ChatTarget{
				PartnerID: "42", UserName: "Lan Anh", Avatar: "https://cdn.example/a.png",
			}},
		},
		"token only": {
			raw:  "zyeachat://chat?token=abc.def.ghi",
			want: Link{Token: "abc.def.ghi"},
		},
		"token and chat": {
			raw: "zyeachat://chat?token=t1&partnerId=7",
			want: Link{Token: "t1", Target: &model.ChatTarget{
				PartnerID: "7", UserName: model.DefaultDisplayName,
			}},
		},
		"double encoded name": {
			raw: "zyeachat://chat?partnerId=7&userName=Ng%25C6%25B0%25E1%25BB%259Di",
			want: Link{Target: &model.ChatTarget{
				PartnerID: "7", UserName: "Người",
			}},
		},
		"conversation id": {
			raw: "zyeachat://chat?conversationId=c9",
			want: Link{Target: &model.ChatTarget{
				ConversationID: "c9", UserName: model.DefaultDisplayName,
			}},
		},
		"double encoded plus": {
			raw: "zyeachat://chat?partnerId=7&userName=Tom%2BJerry%2520Show",
			want: Link{Target: &model.ChatTarget{
				PartnerID: "7", UserName: "Tom+Jerry Show",
			}},
		},
		"no params": {
			raw:  "zyeachat://chat",
			want: Link{},
		},
		"uppercase scheme": {
			raw:  "ZYEACHAT://chat?token=x",
			want: Link{Token: "x"},
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got, err := Parse(tc.raw, "")
			if err != nil {
				t.Fatalf("Parse: unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Parse mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse("  ", ""); !errors.Is(err, ErrEmptyLink) {
		t.Errorf("Parse(blank) = %v, want %v", err, ErrEmptyLink)
	}
	if _, err := Parse("https://example.com/chat?token=x", ""); !errors.Is(err, ErrWrongScheme) {
		t.Errorf("Parse(https) = %v, want %v", err, ErrWrongScheme)
	}
	if _, err := Parse("zyea://chat", "zyeachat"); !errors.Is(err, ErrWrongScheme) {
		t.Errorf("Parse(other app scheme) = %v, want %v", err, ErrWrongScheme)
	}
	if _, err := Parse("zyeachat://settings?partnerId=1", ""); !errors.Is(err, ErrWrongHost) {
		t.Errorf("Parse(settings host) = %v, want %v", err, ErrWrongHost)
	}
	if _, err := Parse("zyeachat://", ""); !errors.Is(err, ErrWrongHost) {
		t.Errorf("Parse(no host) = %v, want %v", err, ErrWrongHost)
	}
	if _, err := Parse("zyeachat://%zz", ""); err == nil {
		t.Error("Parse of malformed URL should fail")
	}
}

func TestBuildParse(t *testing.T) {
	in := Link{
		Token: "tok",
		Target: &model.ChatTarget{
			PartnerID: "42", UserName: "Lan Anh", Avatar: "https://cdn.example/a.png?s=64",
		},
	}
	got, err := Parse(Build("", in), "")
	if err != nil {
		t.Fatalf("Parse(Build): %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
