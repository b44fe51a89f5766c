package model

import "time"

type Comment struct {
	ID      string    `json:"id" bson:"_id"`
	Name    string    `json:"name" bson:"name"`
	Email   string    `json:"email" bson:"email"`
	MovieID string    `json:"movie_id" bson:"movie_id"`
	Text    string    `json:"text" bson:"text"`
	Date    time.Time `json:"date" bson:"date"`
}

// Critic is one row of the most active commenters ranking.
type Critic struct {
	Email       string `json:"email" bson:"_id"`
	NumComments int64  `json:"count" bson:"count"`
}
