package pgfe

import "time"

// PreparedStatement is a named server-side prepared statement bound to the
// Connection that created it. It is invalidated the moment its owning
// Connection reconnects: the Connection's Describe, Execute and Unprepare
// operations (and their async forms) return ErrConnectionSessionExpired for
// it once the session epoch has moved past the one recorded at Prepare
// time, since the server-side statement no longer exists. Its own accessors
// do not check the epoch.
type PreparedStatement struct {
	conn         *Connection
	name         string
	sql          *SqlString
	sessionEpoch time.Time

	described    bool
	paramOIDs    []uint32
	rowInfo      *RowInfo
	resultFormat Format
}

// Name returns the server-side statement name ("" for the unnamed
// statement).
func (ps *PreparedStatement) Name() string { return ps.name }

// SqlString returns the parsed query this statement was prepared from.
func (ps *PreparedStatement) SqlString() *SqlString { return ps.sql }

// Described reports whether Describe has completed successfully for this
// statement, i.e. its parameter OIDs and RowInfo (if any) are populated.
func (ps *PreparedStatement) Described() bool { return ps.described }

// RowInfo returns the result-column metadata obtained by Describe, or nil
// if the statement produces no rows or has not been described yet.
func (ps *PreparedStatement) RowInfo() *RowInfo { return ps.rowInfo }

// ParameterCount returns the number of distinct parameters the underlying
// SqlString references.
func (ps *PreparedStatement) ParameterCount() int { return ps.sql.ParameterCount() }

// ResultFormat returns the format Execute will request result columns in
// (text by default; SetResultFormat to change it before Execute).
func (ps *PreparedStatement) ResultFormat() Format { return ps.resultFormat }

// SetResultFormat overrides the per-statement result format.
func (ps *PreparedStatement) SetResultFormat(f Format) { ps.resultFormat = f }

// checkSessionEpoch reports ErrConnectionSessionExpired once the owning
// Connection has reconnected since this statement was prepared: the
// server-side object it names does not survive the old session.
func (ps *PreparedStatement) checkSessionEpoch() error {
	if ps.conn.sessionStartTime != ps.sessionEpoch {
		return newClientError(ErrConnectionSessionExpired,
			"prepared statement "+ps.name+" was created in a prior connection session")
	}
	return nil
}

// Bind resolves a positional argument list against this statement's
// parameter order (see SqlString.ParameterOrder), returning an error if
// the argument count does not match ParameterCount. It is a thin
// convenience for callers who already have arguments in assignment order;
// BindNamed is the equivalent for a name-keyed argument map.
func (ps *PreparedStatement) Bind(args ...Data) ([]Data, error) {
	order := ps.sql.ParameterOrder()
	if len(args) != len(order) {
		return nil, newClientError(ErrInvalidArgument,
			"argument count does not match parameter count")
	}
	return args, nil
}

// BindNamed resolves a name-keyed argument map into the positional slice
// Execute expects, following the statement's ParameterOrder (positional
// parameters first by index, then named parameters by first occurrence).
// Positional parameters are looked up in values under their decimal string
// form, e.g. "1", to let callers supply a single map covering both
// positional and named references.
func (ps *PreparedStatement) BindNamed(values map[string]Data) ([]Data, error) {
	order := ps.sql.ParameterOrder()
	out := make([]Data, len(order))
	for i, f := range order {
		var key string
		if f.Kind == FragmentNamed {
			key = f.Name
		} else {
			key = itoa(f.Index)
		}
		v, ok := values[key]
		if !ok {
			return nil, newClientError(ErrInvalidArgument, "missing value for parameter "+key)
		}
		out[i] = v
	}
	return out, nil
}
