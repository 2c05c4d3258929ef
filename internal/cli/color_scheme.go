package cli

import (
	"image/color"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/exp/charmtone"
)

// ColorScheme is the fang color scheme of watchdo's help and error output.
func ColorScheme(c lipgloss.LightDarkFunc) fang.ColorScheme {
	text := c(charmtone.Charcoal, charmtone.Ash)
	subtle := c(charmtone.Squid, charmtone.Oyster)

	return fang.ColorScheme{
		Base:           text,
		Title:          charmtone.Guac,
		Codeblock:      c(charmtone.Salt, lipgloss.Color("#2F2E36")),
		Program:        c(charmtone.Malibu, charmtone.Guppy),
		Command:        c(charmtone.Julep, charmtone.Guac),
		DimmedArgument: subtle,
		Comment:        subtle,
		Flag:           c(charmtone.Malibu, charmtone.Julep),
		Argument:       text,
		Description:    text,
		FlagDefault:    c(charmtone.Smoke, charmtone.Squid),
		QuotedString:   c(charmtone.Coral, charmtone.Salmon),
		ErrorHeader: [2]color.Color{
			charmtone.Butter,
			charmtone.Cherry,
		},
	}
}
