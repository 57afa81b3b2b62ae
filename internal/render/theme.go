package render

// Theme holds colors for CFG rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Edge colors by successor kind.
	EdgeDirect    string // unconditional and fallthrough
	EdgeTaken     string // conditional branch taken
	EdgeNotTaken  string // conditional branch not taken
	EdgeSwitch    string // switch cases
	EdgeException string // exception handler
	EntryBorder   string
	ExitFill      string // blocks ending in return or athrow
	HighlightText string // instructions selected by the caller
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeDirect:    "#424242", // dark gray
	EdgeTaken:     "#0B3D91", // NASA blue
	EdgeNotTaken:  "#FC3D21", // NASA red
	EdgeSwitch:    "#00695C", // teal
	EdgeException: "#E65100", // deep orange
	EntryBorder:   "#0B3D91",
	ExitFill:      "#ECEFF1", // blue-gray 50
	HighlightText: "#E65100",
}
