package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/egor/helpchatserver/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	dbQueryTimeout  = 5 * time.Second
)

// ─────────────────────────── GetAdmin

func GetAdmin(email string) (*models.Admin, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbQueryTimeout)
	defer cancel()

	var admin models.Admin
	var avatarNull sql.NullString

	const q = `
		SELECT id, name, email, password_hash, avatar, role, active
		FROM admins
		WHERE email = $1`
	if err := DB.QueryRowContext(ctx, q, email).Scan(
		&admin.ID, &admin.Name, &admin.Email, &admin.PasswordHash,
		&avatarNull, &admin.Role, &admin.Active,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("GetAdmin: %w", err)
	}
	admin.Avatar = nullStringToPointer(avatarNull)
	return &admin, nil
}

func VerifyPassword(pw, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
}

// ─────────────────────────── GetConversations

func GetConversations(page, size int) ([]models.ConversationSummary, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > MaxPageSize {
		size = DefaultPageSize
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbQueryTimeout)
	defer cancel()

	// 1) общее количество
	var total int
	if err := DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&total); err != nil {
		return nil, 0, err
	}

	// 2) сами беседы: последнее сообщение через LATERAL, непрочитанные
	// считаем только от гостя
	const q = `
		SELECT
			c.guest_id, c.is_active, c.assigned_agent_id, c.last_message_time, c.status,
			COUNT(CASE WHEN m.sender = 'visitor' AND m.read = false THEN 1 END) AS unread,
			l.id, l.content, l.sender, l.timestamp
		FROM conversations c
		LEFT JOIN messages m ON m.guest_id = c.guest_id
		LEFT JOIN LATERAL (
			SELECT id, content, sender, timestamp
			FROM messages
			WHERE guest_id = c.guest_id
			ORDER BY timestamp DESC, seq DESC
			LIMIT 1
		) l ON TRUE
		GROUP BY
			c.guest_id, l.id, l.content, l.sender, l.timestamp
		ORDER BY c.last_message_time DESC
		LIMIT $1 OFFSET $2`
	rows, err := DB.QueryContext(ctx, q, size, (page-1)*size)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var (
			conv         models.ConversationSummary
			assignedNull sql.NullString
			unread       int
			lastID       sql.NullString
			lastCont     sql.NullString
			lastSender   sql.NullString
			lastTime     sql.NullTime
		)

		if err := rows.Scan(
			&conv.GuestID, &conv.IsActive, &assignedNull, &conv.LastMessageTime, &conv.Status,
			&unread,
			&lastID, &lastCont, &lastSender, &lastTime,
		); err != nil {
			return nil, 0, err
		}

		conv.AssignedAgentID = nullStringToPointer(assignedNull)
		conv.UnreadCount = unread

		if lastID.Valid {
			conv.LastMessage = &models.Message{
				ID:        uuid.MustParse(lastID.String),
				GuestID:   conv.GuestID,
				Content:   lastCont.String,
				Sender:    lastSender.String,
				Timestamp: lastTime.Time,
			}
		}
		result = append(result, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

// ─────────────────────────── GetConversationByGuestID

func GetConversationByGuestID(guestID string, page, size int) (*models.Conversation, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > MaxPageSize {
		size = DefaultPageSize
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbQueryTimeout)
	defer cancel()

	// 1) метаданные беседы
	var (
		conv         models.Conversation
		assignedNull sql.NullString
	)
	metaQ := `
		SELECT guest_id, is_active, assigned_agent_id, last_message_time, status, created_at
		FROM conversations WHERE guest_id = $1`
	if err := DB.QueryRowContext(ctx, metaQ, guestID).Scan(
		&conv.GuestID, &conv.IsActive, &assignedNull,
		&conv.LastMessageTime, &conv.Status, &conv.CreatedAt,
	); err != nil {
		return nil, 0, err
	}
	conv.AssignedAgentID = nullStringToPointer(assignedNull)

	// 2) общее кол-во сообщений
	var total int
	if err := DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE guest_id=$1", guestID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	// 3) список сообщений: timestamp, seq - порядок вставки сохраняется
	// и внутри одной миллисекунды
	msgQ := `
		SELECT id, content, sender, agent_id, timestamp, is_auto, read
		FROM messages
		WHERE guest_id=$1
		ORDER BY timestamp ASC, seq ASC
		LIMIT $2 OFFSET $3`
	rows, err := DB.QueryContext(ctx, msgQ, guestID, size, (page-1)*size)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         models.Message
			agentNull sql.NullString
		)
		if err := rows.Scan(
			&m.ID, &m.Content, &m.Sender, &agentNull,
			&m.Timestamp, &m.IsAutoMessage, &m.Read,
		); err != nil {
			return nil, 0, err
		}
		m.GuestID = guestID
		m.AgentID = nullStringToPointer(agentNull)
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return &conv, total, nil
}

// ─────────────────────────── AppendMessage

// AppendMessage добавляет сообщение, лениво создавая беседу при первом
// сообщении, и обновляет last_message_time. Сообщение в архивную беседу
// возвращает ее в active: иначе ожившая беседа оставалась бы архивной
// до ручного вмешательства. Все в одной транзакции.
func AppendMessage(ctx context.Context, guestID, content, sender string, agentID *string, isAuto bool) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if err := ensureConversation(ctx, tx, guestID, now); err != nil {
		return nil, err
	}

	msgID := uuid.New()
	var agentVal sql.NullString
	if agentID != nil {
		agentVal = sql.NullString{String: *agentID, Valid: true}
	}

	ins := `
		INSERT INTO messages
		    (id, guest_id, content, sender, agent_id, timestamp, is_auto, read)
		VALUES ($1,$2,$3,$4,$5,$6,$7,false)`
	if _, err := tx.ExecContext(ctx, ins, msgID, guestID, content, sender, agentVal, now, isAuto); err != nil {
		return nil, fmt.Errorf("вставка сообщения: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET last_message_time=$1, status='active' WHERE guest_id=$2", now, guestID,
	); err != nil {
		return nil, fmt.Errorf("обновление беседы: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &models.Message{
		ID:            msgID,
		GuestID:       guestID,
		Content:       content,
		Sender:        sender,
		AgentID:       agentID,
		Timestamp:     now,
		IsAutoMessage: isAuto,
		Read:          false,
	}, nil
}

// ensureConversation создает беседу, если ее еще нет
func ensureConversation(ctx context.Context, tx *sql.Tx, guestID string, now time.Time) error {
	var ok bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM conversations WHERE guest_id=$1)", guestID,
	).Scan(&ok); err != nil {
		return fmt.Errorf("проверка беседы: %w", err)
	}
	if ok {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (guest_id, is_active, last_message_time, status, created_at)
		VALUES ($1, false, $2, 'active', $2)`,
		guestID, now,
	); err != nil {
		return fmt.Errorf("создание беседы: %w", err)
	}
	return nil
}

// ─────────────────────────── присутствие и назначение

func SetGuestActive(ctx context.Context, guestID string, active bool) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureConversation(ctx, tx, guestID, time.Now()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET is_active=$1 WHERE guest_id=$2", active, guestID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func AssignAgent(ctx context.Context, guestID, agentID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureConversation(ctx, tx, guestID, time.Now()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET assigned_agent_id=$1 WHERE guest_id=$2", agentID, guestID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func AssignedAgent(ctx context.Context, guestID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	var assignedNull sql.NullString
	err := DB.QueryRowContext(ctx,
		"SELECT assigned_agent_id FROM conversations WHERE guest_id=$1", guestID,
	).Scan(&assignedNull)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !assignedNull.Valid {
		return "", nil
	}
	return assignedNull.String, nil
}

// ClearAssignedAgent снимает назначение и возвращает id предыдущего
// агента. Снятие уже пустого назначения - no-op, возвращает "".
func ClearAssignedAgent(ctx context.Context, guestID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var assignedNull sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT assigned_agent_id FROM conversations WHERE guest_id=$1", guestID,
	).Scan(&assignedNull)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !assignedNull.Valid {
		return "", nil
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET assigned_agent_id=NULL WHERE guest_id=$1", guestID,
	); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return assignedNull.String, nil
}

// ─────────────────────────── MarkMessagesAsRead

func MarkMessagesAsRead(guestID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), dbQueryTimeout)
	defer cancel()

	_, err := DB.ExecContext(ctx,
		"UPDATE messages SET read=true WHERE guest_id=$1 AND sender='visitor' AND read=false",
		guestID,
	)
	return err
}

// ─────────────────────────── ArchiveIdleConversations

// ArchiveIdleConversations архивирует активные беседы без сообщений
// дольше idle. Протокол бесед не удаляет - архивирование по
// неактивности делает фоновая задача.
func ArchiveIdleConversations(idle time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbQueryTimeout)
	defer cancel()

	res, err := DB.ExecContext(ctx, `
		UPDATE conversations
		SET status='archived', is_active=false
		WHERE status='active' AND last_message_time < $1`,
		time.Now().Add(-idle),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ─────────────────────────── ChatStore

// ChatStore адаптирует функции пакета под интерфейс chat.Store.
type ChatStore struct{}

func (ChatStore) AppendMessage(ctx context.Context, guestID, content, sender string, agentID *string, isAuto bool) (*models.Message, error) {
	return AppendMessage(ctx, guestID, content, sender, agentID, isAuto)
}

func (ChatStore) SetGuestActive(ctx context.Context, guestID string, active bool) error {
	return SetGuestActive(ctx, guestID, active)
}

func (ChatStore) AssignAgent(ctx context.Context, guestID, agentID string) error {
	return AssignAgent(ctx, guestID, agentID)
}

func (ChatStore) AssignedAgent(ctx context.Context, guestID string) (string, error) {
	return AssignedAgent(ctx, guestID)
}

func (ChatStore) ClearAssignedAgent(ctx context.Context, guestID string) (string, error) {
	return ClearAssignedAgent(ctx, guestID)
}
