package api

import "github.com/rotisserie/eris"

var (
	errBadWindow = eris.New("api: window must be day, month or year")
	errBadAction = eris.New("api: action must be fetch, search or all_actions")
)
