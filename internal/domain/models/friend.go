package models

type Friend struct {
	ID       int    `json:"id,omitempty"`
	UserID   int    `json:"-"`
	Nickname string `json:"nickname"`
	Address  string `json:"address"`
	Emoji    string `json:"emoji"`
}

type Favorite struct {
	UserID  int    `json:"-"`
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}
