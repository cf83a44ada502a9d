package security

import "testing"

func TestValidateURL_AllowedHost(t *testing.T) {
	g := NewAPIGuard("api.torn.com")
	if err := g.ValidateURL("https://api.torn.com/v2/faction/news?cat=armoryAction"); err != nil {
		t.Errorf("許可ホストのURLは検証を通過すべき: %v", err)
	}
}

func TestValidateURL_DisallowedHost(t *testing.T) {
	g := NewAPIGuard("api.torn.com")
	if err := g.ValidateURL("https://evil.example.com/v2/faction/news"); err == nil {
		t.Error("許可外ホストのURLは拒否されるべき")
	}
}

func TestValidateURL_DisallowedScheme(t *testing.T) {
	g := NewAPIGuard("api.torn.com")
	if err := g.ValidateURL("http://api.torn.com/v2/faction/news"); err == nil {
		t.Error("httpスキームは拒否されるべき")
	}
	if err := g.ValidateURL("file:///etc/passwd"); err == nil {
		t.Error("fileスキームは拒否されるべき")
	}
}

func TestValidateURL_Empty(t *testing.T) {
	g := NewAPIGuard("api.torn.com")
	if err := g.ValidateURL(""); err == nil {
		t.Error("空URLは拒否されるべき")
	}
}

func TestValidateURL_HostCaseInsensitive(t *testing.T) {
	g := NewAPIGuard("API.Torn.com")
	if err := g.ValidateURL("https://api.torn.com/v2/faction/news"); err != nil {
		t.Errorf("ホスト比較は大文字小文字を区別しないべき: %v", err)
	}
}

func TestNewSafeClient_ReturnsClient(t *testing.T) {
	g := NewAPIGuard("api.torn.com")
	client := g.NewSafeClient(0)
	if client == nil {
		t.Fatal("NewSafeClientはnilを返すべきでない")
	}
}
