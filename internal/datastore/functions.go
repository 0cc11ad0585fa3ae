package datastore

import (
	"context"

	"github.com/uptrace/bun"
)

// CreateLedgerFunctions installs the three atomic ledger functions. Each one
// runs its existence check and balance mutation inside a single function
// call, which Postgres executes in one transaction; the application never
// adds client-side transactions on top.
func CreateLedgerFunctions(ctx context.Context, db *bun.DB) error {
	statements := []string{consumeTicketsSQL, refundTicketsSQL, claimDailyBonusSQL}
	for _, statement := range statements {
		if _, err := db.NewRaw(statement).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

const consumeTicketsSQL = `
CREATE OR REPLACE FUNCTION consume_tickets(
	p_ticket_id bigint,
	p_usage_id text,
	p_cost int,
	p_reason text,
	p_metadata jsonb
) RETURNS TABLE (tickets_left int, already_consumed boolean) AS $$
DECLARE
	v_account ticket_account%ROWTYPE;
	v_inserted bigint;
BEGIN
	IF p_usage_id IS NULL OR p_usage_id = '' OR p_cost IS NULL OR p_cost < 1 THEN
		RAISE EXCEPTION 'INVALID_TICKET_REQUEST';
	END IF;

	SELECT * INTO v_account FROM ticket_account WHERE id = p_ticket_id FOR UPDATE;
	IF NOT FOUND THEN
		RAISE EXCEPTION 'INVALID_TICKET_REQUEST';
	END IF;

	-- Duplicate usage id: report the current balance, charge nothing.
	IF EXISTS (SELECT 1 FROM ticket_event e WHERE e.usage_id = p_usage_id) THEN
		RETURN QUERY SELECT v_account.tickets, true;
		RETURN;
	END IF;

	IF v_account.tickets < p_cost THEN
		RAISE EXCEPTION 'INSUFFICIENT_TICKETS';
	END IF;

	UPDATE ticket_account SET tickets = tickets - p_cost WHERE id = p_ticket_id;

	INSERT INTO ticket_event (usage_id, email, user_id, delta, reason, metadata, created_at)
	VALUES (p_usage_id, v_account.email, v_account.user_id, -p_cost, p_reason, p_metadata, now())
	ON CONFLICT (usage_id) DO NOTHING;
	GET DIAGNOSTICS v_inserted = ROW_COUNT;
	IF v_inserted = 0 THEN
		-- Lost the race after the existence check; undo the decrement.
		UPDATE ticket_account SET tickets = tickets + p_cost WHERE id = p_ticket_id;
		RETURN QUERY SELECT t.tickets, true FROM ticket_account t WHERE t.id = p_ticket_id;
		RETURN;
	END IF;

	RETURN QUERY SELECT t.tickets, false FROM ticket_account t WHERE t.id = p_ticket_id;
END;
$$ LANGUAGE plpgsql;
`

const refundTicketsSQL = `
CREATE OR REPLACE FUNCTION refund_tickets(
	p_ticket_id bigint,
	p_usage_id text,
	p_amount int,
	p_reason text,
	p_metadata jsonb
) RETURNS TABLE (tickets_left int, already_refunded boolean) AS $$
DECLARE
	v_account ticket_account%ROWTYPE;
	v_inserted bigint;
BEGIN
	IF p_usage_id IS NULL OR p_usage_id = '' OR p_amount IS NULL OR p_amount < 1 THEN
		RAISE EXCEPTION 'INVALID_TICKET_REQUEST';
	END IF;

	SELECT * INTO v_account FROM ticket_account WHERE id = p_ticket_id FOR UPDATE;
	IF NOT FOUND THEN
		RAISE EXCEPTION 'INVALID_TICKET_REQUEST';
	END IF;

	INSERT INTO ticket_event (usage_id, email, user_id, delta, reason, metadata, created_at)
	VALUES (p_usage_id, v_account.email, v_account.user_id, p_amount, p_reason, p_metadata, now())
	ON CONFLICT (usage_id) DO NOTHING;
	GET DIAGNOSTICS v_inserted = ROW_COUNT;
	IF v_inserted = 0 THEN
		RETURN QUERY SELECT v_account.tickets, true;
		RETURN;
	END IF;

	UPDATE ticket_account SET tickets = tickets + p_amount WHERE id = p_ticket_id;
	RETURN QUERY SELECT t.tickets, false FROM ticket_account t WHERE t.id = p_ticket_id;
END;
$$ LANGUAGE plpgsql;
`

const claimDailyBonusSQL = `
CREATE OR REPLACE FUNCTION claim_daily_bonus(
	p_email text,
	p_user_id text
) RETURNS TABLE (granted boolean, tickets_left int, next_eligible_at timestamptz, message text) AS $$
DECLARE
	v_account ticket_account%ROWTYPE;
	v_state daily_bonus_state%ROWTYPE;
	v_now timestamptz := now();
	v_bonus int := 1;
	v_window interval := interval '24 hours';
BEGIN
	SELECT * INTO v_account FROM ticket_account
	WHERE (p_user_id IS NOT NULL AND user_id = p_user_id) OR lower(email) = lower(p_email)
	ORDER BY (user_id = p_user_id) DESC NULLS LAST
	LIMIT 1
	FOR UPDATE;
	IF NOT FOUND THEN
		RETURN QUERY SELECT false, 0, v_now + v_window, 'no ticket account';
		RETURN;
	END IF;

	INSERT INTO daily_bonus_state (ticket_id, next_eligible_at, last_claimed_at, claim_count)
	VALUES (v_account.id, v_account.created_at + v_window, NULL, 0)
	ON CONFLICT (ticket_id) DO NOTHING;

	SELECT * INTO v_state FROM daily_bonus_state WHERE ticket_id = v_account.id FOR UPDATE;

	IF v_now < v_state.next_eligible_at THEN
		RETURN QUERY SELECT false, v_account.tickets, v_state.next_eligible_at, 'not eligible yet';
		RETURN;
	END IF;

	UPDATE daily_bonus_state
	SET next_eligible_at = v_now + v_window, last_claimed_at = v_now, claim_count = claim_count + 1
	WHERE ticket_id = v_account.id;

	UPDATE ticket_account SET tickets = tickets + v_bonus WHERE id = v_account.id;

	INSERT INTO ticket_event (usage_id, email, user_id, delta, reason, metadata, created_at)
	VALUES ('daily:' || v_account.id || ':' || to_char(v_now, 'YYYYMMDDHH24MISSMS'),
		v_account.email, v_account.user_id, v_bonus, 'daily_bonus',
		jsonb_build_object('claim_count', v_state.claim_count + 1), v_now)
	ON CONFLICT (usage_id) DO NOTHING;

	RETURN QUERY SELECT true, t.tickets, v_now + v_window, 'granted'
	FROM ticket_account t WHERE t.id = v_account.id;
END;
$$ LANGUAGE plpgsql;
`
