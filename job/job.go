package job

// Transition types the renderer knows how to apply. Anything else degrades
// to TransitionFade at render time with a warning, so the set is not
// enforced at the schema level.
const (
	TransitionFade      = "fade"
	TransitionFadeBlack = "fadeblack"
	TransitionFadeWhite = "fadewhite"
	TransitionCut       = "cut"
)

func IsKnownTransition(transitionType string) bool {
	switch transitionType {
	case TransitionFade, TransitionFadeBlack, TransitionFadeWhite, TransitionCut:
		return true
	}
	return false
}

// Job is the input document for one composition request.
type Job struct {
	Segments        []Segment `json:"segments"`
	BackgroundMusic *AudioRef `json:"background_music,omitempty"`
	Niche           string    `json:"niche,omitempty"`
	Keywords        []string  `json:"keywords,omitempty"`
	Title           string    `json:"title,omitempty"`
	Description     string    `json:"description,omitempty"`
}

type Segment struct {
	ID            string        `json:"id"`
	Image         *ImageRef     `json:"image,omitempty"`
	Video         *VideoRef     `json:"video,omitempty"`
	VoiceOver     *AudioRef     `json:"voice_over,omitempty"`
	TextOver      []TextOverlay `json:"text_over,omitempty"`
	TransitionIn  *Transition   `json:"transition_in,omitempty"`
	TransitionOut *Transition   `json:"transition_out,omitempty"`
}

// AssetRef is the shared shape of every asset reference. URL accepts http(s)
// or a local filesystem path; LocalPath is filled in by the downloader and is
// the source of truth for every later stage.
type AssetRef struct {
	URL       string `json:"url"`
	LocalPath string `json:"local_path,omitempty"`
}

// Resolved returns the local path when the downloader has run, falling back
// to the raw URL for local-path references.
func (a *AssetRef) Resolved() string {
	if a == nil {
		return ""
	}
	if a.LocalPath != "" {
		return a.LocalPath
	}
	return a.URL
}

type ImageRef struct {
	AssetRef
}

type VideoRef struct {
	AssetRef
}

type AudioRef struct {
	AssetRef
	Content    string  `json:"content,omitempty"`
	StartDelay float64 `json:"start_delay,omitempty"`
	EndDelay   float64 `json:"end_delay,omitempty"`
	// nil when the job leaves the level to the mixer; an explicit 0 mutes
	Volume  *float64 `json:"volume,omitempty"`
	FadeIn  float64  `json:"fade_in,omitempty"`
	FadeOut float64  `json:"fade_out,omitempty"`
}

type TextOverlay struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Font     string  `json:"font,omitempty"`
	Size     int     `json:"size,omitempty"`
	Color    string  `json:"color,omitempty"`
	Position string  `json:"position,omitempty"`
	Box      bool    `json:"box,omitempty"`
}

type Transition struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration,omitempty"`
}

// Seconds is the time the transition adds to the segment. Cuts are
// instantaneous whatever their declared duration.
func (t *Transition) Seconds() float64 {
	if t == nil || t.Type == TransitionCut {
		return 0
	}
	return t.Duration
}

// UsesVideo reports whether the segment's visual is a video. When both image
// and video are present the video wins.
func (s *Segment) UsesVideo() bool {
	return s.Video != nil && s.Video.URL != ""
}

func (s *Segment) UsesImage() bool {
	return !s.UsesVideo() && s.Image != nil && s.Image.URL != ""
}

func (s *Segment) HasVoiceOver() bool {
	return s.VoiceOver != nil && s.VoiceOver.URL != ""
}

type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
	AssetVoice AssetKind = "voice"
	AssetMusic AssetKind = "music"
)

// Asset pairs an asset reference with where it came from and whether the
// pipeline can proceed without it.
type Asset struct {
	Ref       *AssetRef
	Kind      AssetKind
	SegmentID string
	Required  bool
}

// Assets lists every reference the downloader must materialize. Only the
// winning visual of each segment is listed; background music is optional,
// everything else is required.
func (j *Job) Assets() []Asset {
	var assets []Asset
	for i := range j.Segments {
		seg := &j.Segments[i]
		if seg.UsesVideo() {
			assets = append(assets, Asset{Ref: &seg.Video.AssetRef, Kind: AssetVideo, SegmentID: seg.ID, Required: true})
		} else if seg.UsesImage() {
			assets = append(assets, Asset{Ref: &seg.Image.AssetRef, Kind: AssetImage, SegmentID: seg.ID, Required: true})
		}
		if seg.HasVoiceOver() {
			assets = append(assets, Asset{Ref: &seg.VoiceOver.AssetRef, Kind: AssetVoice, SegmentID: seg.ID, Required: true})
		}
	}
	if j.BackgroundMusic != nil && j.BackgroundMusic.URL != "" {
		assets = append(assets, Asset{Ref: &j.BackgroundMusic.AssetRef, Kind: AssetMusic, Required: false})
	}
	return assets
}

// Segment retrieves a segment by ID.
func (j *Job) Segment(id string) *Segment {
	for i := range j.Segments {
		if j.Segments[i].ID == id {
			return &j.Segments[i]
		}
	}
	return nil
}
