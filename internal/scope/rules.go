package scope

// DefaultDisallowedExtensions are file types that are never HTML pages.
var DefaultDisallowedExtensions = []string{
	"css", "js", "bmp", "gif", "jpg", "jpeg", "ico",
	"png", "tif", "tiff", "mid", "mp2", "mp3", "mp4",
	"wav", "avi", "mov", "mpeg", "ram", "m4v", "mkv", "ogg", "ogv", "pdf",
	"ps", "eps", "tex", "ppt", "pptx", "doc", "docx", "xls", "xlsx", "names",
	"data", "dat", "exe", "bz2", "tar", "msi", "bin", "7z", "psd", "dmg", "iso",
	"epub", "dll", "cnf", "tgz", "sha1",
	"thmx", "mso", "arff", "rtf", "jar", "csv",
	"rm", "smil", "wmv", "swf", "wma", "zip", "rar", "gz",
}

// DefaultTrapPatterns match URLs that generate unbounded page spaces.
var DefaultTrapPatterns = []string{
	`(?i)/calendar/`,
	`(?i)[?&](ical|outlook-ical|tribe-bar-date|eventDate)=`,
	`(?i)/events?/(list|month|day|week)/`,
	`(?i)[?&](replytocom|share|action=(login|edit|diff|history))`,
	`(?i)/(wp-login\.php|wp-json/)`,
	`(?i)[?&](do|rev|idx)=`,
	`(?i)/\d{4}-\d{2}-\d{2}/?$`,
}

// DefaultRules returns rules with the default trap patterns and limits and
// no allowed domains.
func DefaultRules() Rules {
	return Rules{
		TrapPatterns:        append([]string(nil), DefaultTrapPatterns...),
		MaxURLLength:        2048,
		MaxRepeatedSegments: 3,
	}
}
