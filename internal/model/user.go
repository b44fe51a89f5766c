package model

type User struct {
	Name        string                 `json:"name" bson:"name"`
	Email       string                 `json:"email" bson:"email"`
	Password    string                 `json:"-" bson:"password"`
	Preferences map[string]interface{} `json:"preferences,omitempty" bson:"preferences,omitempty"`
}

// Session is the login state of one user. A user has at most one session.
type Session struct {
	UserID string `json:"user_id" bson:"user_id"`
	JWT    string `json:"jwt" bson:"jwt"`
}
