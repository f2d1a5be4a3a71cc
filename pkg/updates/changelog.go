package updates

// Entry describes one release.
type Entry struct {
	Version string   `json:"version" yaml:"version"`
	Date    string   `json:"date" yaml:"date"`
	Title   string   `json:"title" yaml:"title"`
	Changes []string `json:"changes" yaml:"changes"`
}

// Changelog is ordered newest first.
type Changelog []Entry

// Latest returns the newest entry.
func (c Changelog) Latest() (Entry, bool) {
	if len(c) == 0 {
		return Entry{}, false
	}
	return c[0], true
}

// Find returns the entry for version, ignoring a leading "v".
func (c Changelog) Find(version string) (Entry, bool) {
	want := canonical(version)
	for _, e := range c {
		if canonical(e.Version) == want {
			return e, true
		}
	}
	return Entry{}, false
}

// Builtin is the changelog shipped with the binary.
var Builtin = Changelog{
	{
		Version: "1.0.1",
		Date:    "03/01/2026",
		Title:   "CẬP NHẬT GIAO DIỆN",
		Changes: []string{
			"Sửa lỗi Dark Mode cho header",
			"Cập nhật branding Zyea Chat",
			"OTA Updates hoạt động ổn định",
		},
	},
	{
		Version: "1.0.0",
		Date:    "03/01/2026",
		Title:   "RA MẮT ZYEA CHAT",
		Changes: []string{
			"Ra mắt ứng dụng Zyea Chat độc lập",
			"Chat 1-1 và nhóm với giao diện đẹp",
			"Hỗ trợ gọi thoại và video call",
			"Thông báo tin nhắn mới real-time",
			"Tự động cập nhật OTA không cần cài lại app",
		},
	},
}
