package identity

import "time"

// Resume loads or creates the identity record for projectID, applying the
// session-continuation rule: the stored session token is reused only while
// now - lastActivity < window; otherwise a new token is minted. Missing or
// malformed identifiers are (re)generated, never reused. The refreshed
// record is persisted before returning.
func Resume(store Store, projectID string, now time.Time, window time.Duration) (rec Record, resumed bool, err error) {
	rec, ok, err := store.Load(projectID)
	if err != nil {
		return Record{}, false, err
	}

	if !ok {
		rec = Record{}
	}
	if !ValidToken(rec.VisitorID) {
		rec.VisitorID = NewToken()
	}
	if !ValidToken(rec.GlobalVisitorID) {
		rec.GlobalVisitorID = NewToken()
	}

	if ValidToken(rec.SessionID) && !rec.LastActivity.IsZero() && now.Sub(rec.LastActivity) < window {
		resumed = true
	} else {
		rec.SessionID = NewToken()
	}

	rec.LastActivity = now
	if err := store.Save(projectID, rec); err != nil {
		return Record{}, false, err
	}
	return rec, resumed, nil
}
