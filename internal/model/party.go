package model

// Party 是已认证的当前参与方（用户或专家）。
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}
