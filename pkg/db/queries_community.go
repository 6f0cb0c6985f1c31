package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ----------------------------------------
// Chat queries
// ----------------------------------------

// CreateChatSession opens a support chat session.
func (q *UserQueries) CreateChatSession(ctx context.Context, s ChatSession) error {
	if s.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, subject, status, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, s.ID, s.UserID, s.Subject, s.Status)
	return err
}

// ListChatSessionsByUser returns a user's chat sessions, newest first.
func (q *UserQueries) ListChatSessionsByUser(ctx context.Context, userID string) ([]ChatSession, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, subject, status, created_at
		FROM chat_sessions WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chat sessions: %w", err)
	}
	defer rows.Close()

	var res []ChatSession
	for rows.Next() {
		var s ChatSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.Subject, &s.Status, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat session: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetChatSessionByUser returns one session, verifying ownership.
func (q *UserQueries) GetChatSessionByUser(ctx context.Context, userID, id string) (*ChatSession, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var s ChatSession
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, subject, status, created_at
		FROM chat_sessions WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&s.ID, &s.UserID, &s.Subject, &s.Status, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query chat session: %w", err)
	}
	return &s, nil
}

// CreateChatMessage appends a message to a session.
func (q *UserQueries) CreateChatMessage(ctx context.Context, m ChatMessage) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, sender, body, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, m.ID, m.SessionID, m.Sender, m.Body)
	return err
}

// ListChatMessages returns messages of a session in send order. Callers must
// verify session ownership first.
func (q *UserQueries) ListChatMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, session_id, sender, body, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY created_at ASC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var res []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Security event queries
// ----------------------------------------

// InsertSecurityEvent writes a single security event row.
func (q *UserQueries) InsertSecurityEvent(ctx context.Context, e SecurityEvent) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO security_events (id, user_id, kind, detail, ip, created_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, e.ID, e.UserID, e.Kind, e.Detail, e.IP)
	return err
}

// ListSecurityEventsByUser returns a user's own security events.
func (q *UserQueries) ListSecurityEventsByUser(ctx context.Context, userID string, limit int) ([]SecurityEvent, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, ''), kind, detail, ip, created_at
		FROM security_events WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()
	return scanSecurityEvents(rows)
}

// ListSecurityEvents returns recent events across users (admin view).
func (q *UserQueries) ListSecurityEvents(ctx context.Context, limit int) ([]SecurityEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, ''), kind, detail, ip, created_at
		FROM security_events
		ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()
	return scanSecurityEvents(rows)
}

func scanSecurityEvents(rows *sql.Rows) ([]SecurityEvent, error) {
	var res []SecurityEvent
	for rows.Next() {
		var e SecurityEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Detail, &e.IP, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Forum queries
// ----------------------------------------

// ListForumCategories returns all categories ordered by position.
func (q *UserQueries) ListForumCategories(ctx context.Context) ([]ForumCategory, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, description, position
		FROM forum_categories ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query forum categories: %w", err)
	}
	defer rows.Close()

	var res []ForumCategory
	for rows.Next() {
		var c ForumCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Position); err != nil {
			return nil, fmt.Errorf("scan forum category: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CreateForumThread inserts a thread.
func (q *UserQueries) CreateForumThread(ctx context.Context, t ForumThread) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO forum_threads (id, category_id, user_id, title, body, pinned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, t.ID, t.CategoryID, t.UserID, t.Title, t.Body, t.Pinned)
	return err
}

// ListForumThreads returns threads in a category, pinned first.
func (q *UserQueries) ListForumThreads(ctx context.Context, categoryID string, limit int) ([]ForumThread, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, category_id, user_id, title, body, pinned, created_at
		FROM forum_threads WHERE category_id = ?
		ORDER BY pinned DESC, created_at DESC LIMIT ?
	`, categoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("query forum threads: %w", err)
	}
	defer rows.Close()

	var res []ForumThread
	for rows.Next() {
		var t ForumThread
		if err := rows.Scan(&t.ID, &t.CategoryID, &t.UserID, &t.Title, &t.Body, &t.Pinned, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan forum thread: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// GetForumThread returns a thread by id, or ErrNotFound.
func (q *UserQueries) GetForumThread(ctx context.Context, id string) (*ForumThread, error) {
	var t ForumThread
	err := q.db.QueryRowContext(ctx, `
		SELECT id, category_id, user_id, title, body, pinned, created_at
		FROM forum_threads WHERE id = ?
	`, id).Scan(&t.ID, &t.CategoryID, &t.UserID, &t.Title, &t.Body, &t.Pinned, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query forum thread: %w", err)
	}
	return &t, nil
}

// CreateForumReply inserts a reply.
func (q *UserQueries) CreateForumReply(ctx context.Context, r ForumReply) error {
	if r.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO forum_replies (id, thread_id, user_id, body, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, r.ID, r.ThreadID, r.UserID, r.Body)
	return err
}

// ListForumReplies returns replies of a thread in post order.
func (q *UserQueries) ListForumReplies(ctx context.Context, threadID string, limit int) ([]ForumReply, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, thread_id, user_id, body, created_at
		FROM forum_replies WHERE thread_id = ?
		ORDER BY created_at ASC LIMIT ?
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query forum replies: %w", err)
	}
	defer rows.Close()

	var res []ForumReply
	for rows.Next() {
		var r ForumReply
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.UserID, &r.Body, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan forum reply: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Element transfer queries and worker mutations
// ----------------------------------------

// CreateElementTransfer records an ownership change.
func (q *UserQueries) CreateElementTransfer(ctx context.Context, t ElementTransfer) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO element_transfers (id, element_id, from_user, to_user, price, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, t.ID, t.ElementID, t.FromUser, t.ToUser, t.Price, t.Kind)
	return err
}

// ListElementTransfersByUser returns transfers a user took part in.
func (q *UserQueries) ListElementTransfersByUser(ctx context.Context, userID string, limit int) ([]ElementTransfer, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, element_id, COALESCE(from_user, ''), to_user, price, kind, created_at
		FROM element_transfers
		WHERE from_user = ? OR to_user = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query element transfers: %w", err)
	}
	defer rows.Close()

	var res []ElementTransfer
	for rows.Next() {
		var t ElementTransfer
		if err := rows.Scan(&t.ID, &t.ElementID, &t.FromUser, &t.ToUser, &t.Price, &t.Kind, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan element transfer: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// SetElementOwner moves an element to a new owner and clears its listing.
func (q *UserQueries) SetElementOwner(ctx context.Context, elementID, ownerID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE elements SET owner_id = ?, listed = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, ownerID, elementID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetElementListing lists or unlists an element, verifying ownership.
func (q *UserQueries) SetElementListing(ctx context.Context, ownerID, elementID string, listed bool, price float64) error {
	if ownerID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE elements SET listed = ?, price = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ?
	`, listed, price, elementID, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMixingStatus advances a mixing request through its lifecycle.
func (q *UserQueries) UpdateMixingStatus(ctx context.Context, id, status string, startedAt, completedAt *time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE mixing_requests
		SET status = ?,
		    started_at = COALESCE(?, started_at),
		    completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, status, startedAt, completedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStakeAccrual persists the latest accrued rewards for a position.
func (q *UserQueries) UpdateStakeAccrual(ctx context.Context, id string, accrued float64, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE stake_positions SET accrued = ?, last_accrual_at = ? WHERE id = ?
	`, accrued, at, id)
	return err
}

// UpdateStakePosition rewrites a position after claim, upgrade or unstake.
func (q *UserQueries) UpdateStakePosition(ctx context.Context, p StakePosition) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE stake_positions
		SET plan_id = ?, principal = ?, accrued = ?, status = ?, last_accrual_at = ?, unlocks_at = ?
		WHERE id = ?
	`, p.PlanID, p.Principal, p.Accrued, p.Status, p.LastAccrualAt, p.UnlocksAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveStakePositions returns positions the accrual worker must advance.
func (q *UserQueries) ListActiveStakePositions(ctx context.Context) ([]StakePosition, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, plan_id, principal, accrued, status, started_at, last_accrual_at, unlocks_at
		FROM stake_positions WHERE status = 'active'
	`)
	if err != nil {
		return nil, fmt.Errorf("query active stake positions: %w", err)
	}
	defer rows.Close()

	var res []StakePosition
	for rows.Next() {
		var p StakePosition
		if err := rows.Scan(&p.ID, &p.UserID, &p.PlanID, &p.Principal, &p.Accrued, &p.Status,
			&p.StartedAt, &p.LastAccrualAt, &p.UnlocksAt); err != nil {
			return nil, fmt.Errorf("scan stake position: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateMetalHoldingStatus moves a vaulted holding between vaulted and delivery states.
func (q *UserQueries) UpdateMetalHoldingStatus(ctx context.Context, id, status string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE metal_holdings SET status = ? WHERE id = ?
	`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDeliveryStatus advances a delivery request.
func (q *UserQueries) UpdateDeliveryStatus(ctx context.Context, id, status string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE delivery_requests SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertBotExecution records one evaluation of an active bot.
func (q *UserQueries) InsertBotExecution(ctx context.Context, e BotExecution) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bot_executions (id, bot_id, user_id, symbol, action, qty, price, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, e.ID, e.BotID, e.UserID, e.Symbol, e.Action, e.Qty, e.Price, e.Note)
	return err
}
