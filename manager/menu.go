package manager

import "fmt"

// CloseMenuID identifies the close menu when its selection comes back.
const CloseMenuID = "close via menu"

// MenuOption is one selectable session in the close menu.
type MenuOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// Menu is a multi-select listing every live session.
type Menu struct {
	ID          string       `json:"id"`
	Placeholder string       `json:"placeholder"`
	Options     []MenuOption `json:"options"`
	MinValues   int          `json:"min_values"`
	MaxValues   int          `json:"max_values"`
	Disabled    bool         `json:"disabled"`
}

// Menu builds the close menu from the live sessions.
func (m *Manager) Menu() Menu {
	infos := m.registry.Snapshot()
	if len(infos) == 0 {
		return Menu{
			ID:          CloseMenuID,
			Placeholder: "No connections left to close",
			Options:     []MenuOption{},
			Disabled:    true,
		}
	}

	options := make([]MenuOption, len(infos))
	for i, info := range infos {
		options[i] = MenuOption{
			Label:       info.ID,
			Value:       info.ID,
			Description: fmt.Sprintf("Created by %s", info.Creator),
		}
	}
	return Menu{
		ID:          CloseMenuID,
		Placeholder: "Select connections to close",
		Options:     options,
		MinValues:   1,
		MaxValues:   len(options),
	}
}
