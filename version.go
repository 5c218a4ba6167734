package approvalflow

const Version = "1.2.0"
