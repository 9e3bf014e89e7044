package device

import "fmt"

// Platform selects the application profile the client logs in as.
type Platform uint8

const (
	Android Platform = 1
	Watch   Platform = 3
)

func (p Platform) String() string {
	switch p {
	case Android:
		return "android"
	case Watch:
		return "watch"
	default:
		return fmt.Sprintf("platform(%d)", uint8(p))
	}
}

// ParsePlatform maps a config value to a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch s {
	case "", "android":
		return Android, nil
	case "watch":
		return Watch, nil
	default:
		return 0, fmt.Errorf("device: unknown platform %q", s)
	}
}

// Apk is the application metadata echoed in login tags and packet headers.
type Apk struct {
	ID        string
	Name      string
	Version   string
	Ver       string
	Sign      []byte
	BuildTime uint32
	AppID     uint32
	SubID     uint32
	Bitmap    uint32
	SigMap    uint32
	SDKVer    string
	Display   string
}

var apkSign = []byte{0xA6, 0xB7, 0x45, 0xBF, 0x24, 0xA2, 0xC2, 0x77, 0x52, 0x77, 0x16, 0xF6, 0xF3, 0x6E, 0xB6, 0x8D}

var (
	androidApk = Apk{
		ID:        "com.tencent.mobileqq",
		Name:      "A8.8.80.7400",
		Version:   "8.8.80.7400",
		Ver:       "8.8.80",
		Sign:      apkSign,
		BuildTime: 1640921786,
		AppID:     16,
		SubID:     537113159,
		Bitmap:    184024956,
		SigMap:    34869472,
		SDKVer:    "6.0.0.2494",
		Display:   "Android",
	}
	watchApk = Apk{
		ID:        "com.tencent.qqlite",
		Name:      "A2.0.5",
		Version:   "2.0.5",
		Ver:       "2.0.5",
		Sign:      apkSign,
		BuildTime: 1559564731,
		AppID:     16,
		SubID:     537064446,
		Bitmap:    16252796,
		SigMap:    34869472,
		SDKVer:    "6.0.0.236",
		Display:   "Watch",
	}
)

// ApkFor returns the profile for p, defaulting to Android.
func ApkFor(p Platform) Apk {
	if p == Watch {
		return watchApk
	}
	return androidApk
}
