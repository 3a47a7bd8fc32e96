package androidtv

// Android key event codes addressable by symbolic name through the ad-hoc
// command service. An unknown name falls through to being run as a literal
// shell command.
var Keys = map[string]int{
	"HOME":         3,
	"BACK":         4,
	"UP":           19,
	"DOWN":         20,
	"LEFT":         21,
	"RIGHT":        22,
	"CENTER":       23,
	"ENTER":        66,
	"VOLUME_UP":    24,
	"VOLUME_DOWN":  25,
	"POWER":        26,
	"MENU":         82,
	"PLAY_PAUSE":   85,
	"STOP":         86,
	"NEXT":         87,
	"PREVIOUS":     88,
	"REWIND":       89,
	"FAST_FORWARD": 90,
	"MUTE":         164,
	"PLAY":         126,
	"PAUSE":        127,
	"SLEEP":        223,
	"WAKEUP":       224,
	"SEARCH":       84,
	"SETTINGS":     176,
	"SPACE":        62,
	"TAB":          61,
}

// Keycodes used directly by the media-player operations.
const (
	keyVolumeUp    = 24
	keyVolumeDown  = 25
	keyPlayPause   = 85
	keyStop        = 86
	keyNext        = 87
	keyPrevious    = 88
	keyMute        = 164
	keyPlay        = 126
	keyPause       = 127
	keySleep       = 223
	keyWakeup      = 224
)

// Apps maps well-known package names to display names. Configured aliases
// are merged on top of this table.
var Apps = map[string]string{
	"com.netflix.ninja":                   "Netflix",
	"com.google.android.youtube.tv":       "YouTube",
	"com.plexapp.android":                 "Plex",
	"com.amazon.amazonvideo.livingroom":   "Prime Video",
	"com.amazon.firetv.youtube":           "YouTube (Fire TV)",
	"com.disney.disneyplus":               "Disney+",
	"com.hulu.livingroomplus":             "Hulu",
	"com.spotify.tv.android":              "Spotify",
	"org.xbmc.kodi":                       "Kodi",
	"com.android.tv.settings":             "Settings",
	"com.google.android.tvlauncher":       "Home",
	"com.amazon.tv.launcher":              "Home (Fire TV)",
}
