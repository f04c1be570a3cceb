package server

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/npezzotti/go-cloudclip/internal/types"
	"github.com/ua-parser/uap-go/uaparser"
)

// compiling the embedded regexes takes a while, so do it on first use
var uaParser = sync.OnceValue(uaparser.NewFromSaved)

// ParseDevice describes the device behind a User-Agent header.
func ParseDevice(userAgent string) types.DeviceMeta {
	client := uaParser().Parse(userAgent)

	return types.DeviceMeta{
		Type:         client.Device.Family,
		Device:       strings.TrimSpace(fmt.Sprintf("%s %s %s", client.Device.Brand, client.Device.Model, client.Os.Family)),
		OS:           strings.TrimSpace(fmt.Sprintf("%s %s", client.Os.Family, client.Os.Major)),
		Browser:      strings.TrimSpace(fmt.Sprintf("%s %s", client.UserAgent.Family, client.UserAgent.Major)),
		RawUserAgent: userAgent,
	}
}

type fileClass struct {
	kind string
	icon string
}

var (
	imageClass = fileClass{kind: "image", icon: "🖼️"}
	videoClass = fileClass{kind: "video", icon: "🎬"}
	audioClass = fileClass{kind: "audio", icon: "🎵"}
	otherClass = fileClass{kind: "file", icon: "📄"}
)

var fileClasses = map[string]fileClass{
	"jpg": imageClass, "jpeg": imageClass, "png": imageClass, "gif": imageClass,
	"webp": imageClass, "svg": imageClass, "bmp": imageClass, "ico": imageClass,
	"mp4": videoClass, "webm": videoClass, "mov": videoClass, "avi": videoClass,
	"mkv": videoClass, "m4v": videoClass, "ogg": videoClass,
	"mp3": audioClass, "wav": audioClass, "m4a": audioClass, "aac": audioClass,
	"flac": audioClass,
}

func classifyFile(name string) fileClass {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if c, ok := fileClasses[ext]; ok {
		return c
	}
	return otherClass
}

// FileType returns image, video, audio or file for a file name.
func FileType(name string) string {
	return classifyFile(name).kind
}
