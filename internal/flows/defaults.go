package flows

import "time"

var (
	consentStep = Step{
		Kind: StepClick,
		Selectors: []string{
			"button#L2AGLb",
			"form[action*='consent.google'] button",
			"button[aria-label='Accept all']",
		},
		Timeout:  3 * time.Second,
		Optional: true,
	}

	panelSelectors = []string{
		"div.kp-wholepage",
		"#rhs div[data-attrid]",
		"div[role='complementary']",
		"#rhs",
	}

	waitPanel = Step{Kind: StepWait, Selectors: panelSelectors}
)

func searchOpen() []Step {
	return []Step{
		{Kind: StepNavigate, Target: TargetPrior},
		consentStep,
		waitPanel,
	}
}

func steps(head []Step, tail ...Step) []Step {
	return append(append([]Step{}, head...), tail...)
}

// Builtin returns the stock flow definitions.
func Builtin() []Definition {
	return []Definition{
		{
			Name:        "iframe",
			Description: "Embedded Google Map on the business website",
			Steps: []Step{
				{Kind: StepNavigate, Target: TargetLocator},
				{Kind: StepWait, Selectors: []string{"body"}},
				{Kind: StepScroll, Pixels: 800, Repeat: 3, Duration: 400 * time.Millisecond},
				{
					Kind:  StepDetect,
					Label: "map_embed",
					Selectors: []string{
						`iframe[src*="google.com/maps"]`,
						`iframe[src*="maps.google."]`,
						`iframe[data-src*="google.com/maps"]`,
						`iframe[src*="goo.gl/maps"]`,
					},
					Timeout: 10 * time.Second,
				},
				{
					Kind:  StepCapture,
					Label: "map",
					Selectors: []string{
						`iframe[src*="google.com/maps"]`,
						`iframe[src*="maps.google."]`,
						`iframe[data-src*="google.com/maps"]`,
						`iframe[src*="goo.gl/maps"]`,
					},
				},
			},
		},
		{
			Name:        "panel",
			Description: "Knowledge panel on the Google results page",
			Steps: steps(searchOpen(),
				Step{Kind: StepSleep, Duration: time.Second},
				Step{Kind: StepCapture, Label: "panel", Selectors: panelSelectors},
			),
		},
		{
			Name:        "photos",
			Description: "Photo viewer opened from the knowledge panel",
			Steps: steps(searchOpen(),
				Step{Kind: StepClick, Selectors: []string{
					"div[data-attrid='kc:/location/location:media'] a",
					"a[data-async-trigger*='photo']",
					"#rhs g-img",
					"div.kp-wholepage a[href*='photos']",
				}},
				Step{Kind: StepWait, Selectors: []string{
					"div[role='dialog'] img",
					"div[data-photo-viewer]",
					"g-lightbox img",
				}},
				Step{Kind: StepSleep, Duration: 1500 * time.Millisecond},
				Step{Kind: StepCapture, Label: "photos"},
			),
		},
		{
			Name:        "reviews",
			Description: "Reviews dialog opened from the knowledge panel",
			Steps: steps(searchOpen(),
				Step{Kind: StepDetect, Label: "review_count", Selectors: []string{
					"#rhs a[data-async-trigger='reviewDialog'] span",
				}, Phrases: []string{"Google reviews", "Google review"}, Timeout: 5 * time.Second},
				Step{Kind: StepClick, Selectors: []string{
					"a[data-async-trigger='reviewDialog']",
					"span[data-async-trigger='reviewDialog']",
					"a[href*='#lrd']",
					"#rhs a[role='button'][data-sort-by]",
				}},
				Step{Kind: StepWait, Selectors: []string{
					"div.review-dialog-list",
					"div[role='dialog'] div[data-review-id]",
					"g-review-stars",
				}},
				Step{Kind: StepScroll, Selectors: []string{"div.review-dialog-list", "div[role='dialog']"}, Pixels: 600, Repeat: 2, Duration: 500 * time.Millisecond, Optional: true},
				Step{Kind: StepCapture, Label: "reviews", Selectors: []string{"div.review-dialog-list", "div[role='dialog']"}},
			),
		},
		{
			Name:        "directions",
			Description: "Directions view opened from the knowledge panel",
			Steps: steps(searchOpen(),
				Step{Kind: StepClick, Selectors: []string{
					"a[data-url*='/maps/dir/']",
					"a[href*='/maps/dir/']",
					"a[aria-label*='Directions']",
				}},
				Step{Kind: StepWait, Selectors: []string{
					"#omnibox-directions",
					"div[aria-label*='Directions']",
					"div[role='main']",
				}, Timeout: 20 * time.Second},
				Step{Kind: StepSleep, Duration: 2 * time.Second},
				Step{Kind: StepCapture, Label: "directions"},
			),
		},
		{
			Name:        "social",
			Description: "Social profile links listed in the knowledge panel",
			Steps: steps(searchOpen(),
				Step{Kind: StepLinks, Label: "social", Selectors: []string{
					"div[data-attrid='kc:/common/topic:social media presence']",
					"div.kp-wholepage",
					"#rhs",
				}},
				Step{Kind: StepCapture, Label: "social", Selectors: []string{
					"div[data-attrid='kc:/common/topic:social media presence']",
					"div.kp-wholepage",
					"#rhs",
				}},
			),
		},
		{
			Name:        "qa",
			Description: "Questions and answers dialog from the knowledge panel",
			Steps: steps(searchOpen(),
				Step{Kind: StepDetect, Label: "qa_section", Selectors: []string{
					"div[data-attrid*='kc:/local:qa']",
				}, Phrases: []string{"Questions & answers", "Ask a question"}, Timeout: 5 * time.Second},
				Step{Kind: StepClick, Selectors: []string{
					"a[data-async-trigger*='qa']",
					"a[href*='questions']",
					"div[data-attrid*='kc:/local:qa'] a",
				}},
				Step{Kind: StepWait, Selectors: []string{"div[role='dialog']", "g-lightbox"}},
				Step{Kind: StepSleep, Duration: time.Second},
				Step{Kind: StepCapture, Label: "qa"},
				Step{Kind: StepBack, Selectors: panelSelectors, Optional: true},
			),
		},
	}
}

// Defaults returns a registry of the built-in flows.
func Defaults() *Registry {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		panic(err)
	}
	return r
}
