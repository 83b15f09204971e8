package banner

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

// Print writes the startup banner for the serve command
func Print() {
	ptermLogo, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithRGB("tail", pterm.NewRGB(255, 0, 0)),
		putils.LettersFromStringWithRGB("logs", pterm.NewRGB(136, 136, 255))).
		Srender()

	pterm.DefaultCenter.Print(ptermLogo)

	pterm.DefaultCenter.Print(
		pterm.DefaultHeader.
			WithFullWidth().
			WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
			WithMargin(5).
			Sprint(pterm.White("taillogs - only what is new, from every source")),
	)

	pterm.Info.Println(
		"Incremental tailing of log files and audit tables behind one polling API." +
			"\nVersion 0.1.0.",
	)
}
