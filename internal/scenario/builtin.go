package scenario

import "time"

// Builtin returns the default smoke catalogue for the projections app
func Builtin() []Scenario {
	return []Scenario{
		{
			Name:        "basic-structure",
			Description: "page loads with a heading and at least one button",
			Steps: []Step{
				Navigate("/"),
				WaitForSelector("h1", 10*time.Second),
				AssertCount("button", AtLeast(1)),
			},
		},
		{
			Name:        "theme-selector",
			Description: "theme selector is rendered",
			Steps: []Step{
				Navigate("/"),
				WaitForSelector("#themeSelect", 0),
				AssertCount("#themeSelect", Exactly(1)),
			},
		},
		{
			Name:        "india-tab",
			Description: "India tab is clickable and the title stays mounted",
			Steps: []Step{
				Navigate("/"),
				WaitForSelector("#indiaTab", 0),
				Click("#indiaTab"),
				WaitMs(500 * time.Millisecond),
				WaitForSelector("#mainTitle", 0),
			},
		},
		{
			Name:        "exposed-functions",
			Description: "segment and projection functions are exposed on window",
			Steps: []Step{
				Navigate("/"),
				WaitForSelector("h1", 0),
				EvaluateExpect("typeof window.addOrUpdateSegment", "function"),
				EvaluateExpect("typeof window.calculateProjections", "function"),
			},
		},
		{
			Name:        "calculate-projections",
			Description: "projection calculation runs without throwing",
			Steps: []Step{
				Navigate("/"),
				WaitForSelector("h1", 0),
				EvaluateExpect("(() => { window.calculateProjections(); return true; })()", "true"),
			},
		},
		{
			Name:        "working-page",
			Description: "standalone working page renders its title",
			Steps: []Step{
				Navigate("/index-working.html"),
				WaitForSelector("h1", 0),
				AssertText("h1", "Revenue Projections"),
			},
		},
	}
}
